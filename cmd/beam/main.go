package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"beam/internal/history"
	"beam/internal/logger"
	"beam/internal/parser"
	"beam/internal/protocol"
	"beam/internal/session"
	"beam/internal/transport"
)

const (
	tokenEnv      = "BEAM_TOKEN"
	connectBudget = 30 * time.Second
)

var (
	verbose       bool
	latencyMillis int
	chunkSizeFlag string
	modeFlag      string
	journalPath   string
)

var rootCmd = &cobra.Command{
	Use:   "beam [files...]",
	Short: "send files and directories to a peer sharing the same token",
	Long: `beam transfers files and directories between two peers that share a
secret token. With no arguments it runs as the receiver; with one or more
file or directory arguments it runs as the sender. Both sides derive each
other's transport identity from the token, so no addresses are exchanged.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.Flags().IntVar(&latencyMillis, "latency", 100, "send pacing in milliseconds")
	rootCmd.Flags().StringVar(&chunkSizeFlag, "chunk-size", "5m", "chunk size, e.g. 512k, 5m, 1g")
	rootCmd.Flags().StringVar(&modeFlag, "mode", "chunked", "transfer mode: chunked, whole or archive")
	rootCmd.Flags().StringVar(&journalPath, "journal", "", "record finished sessions in this sqlite file")
}

func run(cmd *cobra.Command, args []string) error {
	log := logger.New(verbose)

	token := os.Getenv(tokenEnv)
	if token == "" {
		return &session.ConfigError{Msg: tokenEnv + " environment variable not set"}
	}
	log.Debugf("token: %s", truncateToken(token))

	chunkSize, err := parser.ParseSize(chunkSizeFlag)
	if err != nil {
		return &session.ConfigError{Msg: err.Error()}
	}
	if chunkSize < 1 {
		return &session.ConfigError{Msg: fmt.Sprintf("chunk size must be at least 1 byte, got %d", chunkSize)}
	}

	mode, ok := protocol.ParseMode(modeFlag)
	if !ok {
		return &session.ConfigError{Msg: fmt.Sprintf("unknown mode %q", modeFlag)}
	}

	senderSeed, receiverSeed := session.DeriveSeeds(token)

	var seed uint64
	var peerID string
	if len(args) == 0 {
		log.Info("running in receiver mode...")
		if cmd.Flags().Changed("chunk-size") {
			log.Warnf("chunk-size %q is ignored in receiver mode; the sender dictates chunking", chunkSizeFlag)
		}
		seed, peerID = receiverSeed, session.PeerID(senderSeed)
	} else {
		log.Infof("running in sender mode with %d items...", len(args))
		seed, peerID = senderSeed, session.PeerID(receiverSeed)
	}

	node, err := transport.NewNode(transport.IdentityFromSeed(seed), log)
	if err != nil {
		return fmt.Errorf("starting transport: %w", err)
	}
	log.Infof("node ID: %s", node.NodeID())

	var journal *history.Journal
	if journalPath != "" {
		journal, err = history.Open(journalPath)
		if err != nil {
			log.Warnf("journal disabled: %v", err)
			journal = nil
		} else {
			defer journal.Close()
		}
	}

	sess := session.New(session.Config{
		Link:      node,
		Logger:    log,
		Mode:      mode,
		ChunkSize: chunkSize,
		Latency:   time.Duration(latencyMillis) * time.Millisecond,
		Journal:   journal,
	})
	defer sess.Close()

	if err := sess.Establish(peerID, connectBudget); err != nil {
		return err
	}

	if len(args) == 0 {
		return sess.Receive()
	}
	return sess.Send(args)
}

func truncateToken(token string) string {
	if len(token) <= 16 {
		return "****"
	}
	return token[:8] + "..." + token[len(token)-8:]
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
