package main

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"starkdevnet/core/blockproducer"
	"starkdevnet/core/felt"
	"starkdevnet/core/gasoracle"
	"starkdevnet/core/journal"
	"starkdevnet/core/rpcapi"
	"starkdevnet/core/testkit"
	"starkdevnet/pkg/config"
)

// version is set at build time via -ldflags; it stays "dev" otherwise.
var version = "dev"

func main() {
	rootCmd := &cobra.Command{Use: "devnetd"}
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(dumpCmd())
	rootCmd.AddCommand(loadCmd())
	rootCmd.AddCommand(versionCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the devnetd version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

// runCmd starts the node and blocks, serving JSON-RPC + WebSocket traffic
// until interrupted. On a clean shutdown with the config's journal mode
// set to on_clean_shutdown, it dumps the journal before exiting.
func runCmd() *cobra.Command {
	var env string
	var listenAddr string
	var seedEnv string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "start the devnet and serve its JSON-RPC/WebSocket API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(env)
			if err != nil {
				logrus.WithError(err).Warn("devnetd: no config file found, running with built-in defaults")
				cfg = &config.Config{}
			}
			if listenAddr != "" {
				cfg.Network.ListenAddr = listenAddr
			}
			configureLogging(cfg.Logging.Level, cfg.Logging.File)

			node := buildNode(cfg)
			defer node.Stop()

			srv := &http.Server{Addr: addrOrDefault(cfg.Network.ListenAddr), Handler: node.RPC.Router()}

			var metricsSrv *http.Server
			if cfg.Network.MetricsAddr != "" {
				metricsSrv = node.Metrics.StartServer(cfg.Network.MetricsAddr)
				logrus.WithField("addr", cfg.Network.MetricsAddr).Info("devnetd: serving Prometheus metrics")
			}

			go func() {
				logrus.WithField("addr", srv.Addr).Info("devnetd: serving JSON-RPC/WebSocket")
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logrus.WithError(err).Fatal("devnetd: server failed")
				}
			}()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			<-sig
			logrus.Info("devnetd: shutting down")

			if cfg.Journal.Mode == "on_clean_shutdown" && cfg.Journal.Path != "" {
				if err := node.Journal.Dump(cfg.Journal.Path); err != nil {
					logrus.WithError(err).Error("devnetd: failed to dump journal on shutdown")
				}
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if metricsSrv != nil {
				if err := node.Metrics.ShutdownServer(ctx, metricsSrv); err != nil {
					logrus.WithError(err).Error("devnetd: metrics server shutdown failed")
				}
			}
			return srv.Shutdown(ctx)
		},
	}
	cmd.Flags().StringVar(&env, "env", "", "named config overlay to merge over the default config")
	cmd.Flags().StringVar(&listenAddr, "listen", "", "HTTP/WebSocket listen address (overrides config)")
	cmd.Flags().StringVar(&seedEnv, "seed", "", "unused, reserved for deterministic account seeding overrides")
	return cmd
}

func dumpCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "dump [config-env]",
		Short: "start the devnet, immediately dump its journal, and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			env := ""
			if len(args) > 0 {
				env = args[0]
			}
			cfg, err := config.Load(env)
			if err != nil {
				return err
			}
			node := buildNode(cfg)
			defer node.Stop()
			if path == "" {
				path = cfg.Journal.Path
			}
			return node.Journal.Dump(path)
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "journal dump destination (defaults to the config's journal path)")
	return cmd
}

func loadCmd() *cobra.Command {
	var path string
	var env string
	cmd := &cobra.Command{
		Use:   "load",
		Short: "start a fresh node configured like --env and replay a dumped journal into it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(env)
			if err != nil {
				logrus.WithError(err).Warn("devnetd: no config file found, running with built-in defaults")
				cfg = &config.Config{}
			}
			configureLogging(cfg.Logging.Level, cfg.Logging.File)

			node := buildNode(cfg)
			defer node.Stop()

			n, err := node.Restore(path)
			if err != nil {
				return err
			}
			fmt.Printf("replayed %d journal entries from %s\n", n, path)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "journal file to load")
	cmd.Flags().StringVar(&env, "env", "", "named config overlay the dumping core was started with")
	cmd.MarkFlagRequired("path")
	return cmd
}

func addrOrDefault(addr string) string {
	if addr == "" {
		return ":5050"
	}
	return addr
}

func configureLogging(level, file string) {
	if lvl, err := logrus.ParseLevel(level); err == nil {
		logrus.SetLevel(lvl)
	}
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			logrus.SetOutput(f)
		} else {
			logrus.WithError(err).Warn("devnetd: failed to open log file, logging to stderr")
		}
	}
}

// buildNode turns a loaded config.Config into a running testkit.Node,
// parsing the config's hex-felt and string fields into their typed forms.
func buildNode(cfg *config.Config) *testkit.Node {
	sealingMode := blockproducer.ModeOnDemand
	switch cfg.BlockProduction.Mode {
	case "transaction":
		sealingMode = blockproducer.ModeOnTransaction
	case "interval":
		sealingMode = blockproducer.ModeOnInterval
	}

	accounts, privateKeys := derivePredeployedAccounts(cfg.Accounts.Seed, cfg.Accounts.Count, feltOrZero(cfg.Accounts.InitialBalance))
	_ = privateKeys // already set as each account's PrivateKey

	journalMode := journal.ModeOff
	switch cfg.Journal.Mode {
	case "on_accepted_block":
		journalMode = journal.ModeOnAcceptedBlock
	case "on_accepted_transaction":
		journalMode = journal.ModeOnAcceptedTransaction
	case "on_clean_shutdown":
		journalMode = journal.ModeOnCleanShutdown
	case "on_explicit_request":
		journalMode = journal.ModeOnExplicitRequest
	}

	return testkit.New(testkit.Config{
		ChainID:         feltOrDefault(cfg.Network.ChainID, felt.FromUint64(1)),
		ProtocolVersion: stringOrDefault(cfg.Network.ProtocolVersion, "0.13.1"),
		SpecVersion:     stringOrDefault(cfg.Network.SpecVersion, "0.8.0"),
		Sequencer:       feltOrZero(cfg.Network.Sequencer),
		SeedTime:        cfg.BlockProduction.StartTime,
		StartingPrices: gasoracle.Prices{
			L1GasWei:     feltOrDefault(cfg.GasPrices.L1GasWei, felt.FromUint64(1)),
			L1GasFri:     feltOrDefault(cfg.GasPrices.L1GasFri, felt.FromUint64(1)),
			L1DataGasWei: feltOrDefault(cfg.GasPrices.L1DataGasWei, felt.FromUint64(1)),
			L1DataGasFri: feltOrDefault(cfg.GasPrices.L1DataGasFri, felt.FromUint64(1)),
			L2GasWei:     feltOrDefault(cfg.GasPrices.L2GasWei, felt.FromUint64(1)),
			L2GasFri:     feltOrDefault(cfg.GasPrices.L2GasFri, felt.FromUint64(1)),
		},
		SealingMode:         sealingMode,
		SealingInterval:     time.Duration(cfg.BlockProduction.IntervalMS) * time.Millisecond,
		FeeTokenWeiAddress:  feltOrDefault(cfg.FeeToken.WeiAddress, felt.FromUint64(0x49)),
		FeeTokenFriAddress:  feltOrDefault(cfg.FeeToken.FriAddress, felt.FromUint64(0x4a)),
		PredeployedAccounts: accounts,
		JournalMode:         journalMode,
		JournalPath:         cfg.Journal.Path,
		Archival:            cfg.Storage.Archival,
		MessagingContract:   feltOrZero(cfg.Messaging.ContractAddress),
		MessagingDryRun:     cfg.Messaging.DryRun,
	})
}

// derivePredeployedAccounts deterministically derives count accounts from
// seed. Each account's private/public key pair is a sha256 reduction of
// the seed and index, not a real Stark-curve keypair (signature
// verification is out of this module's scope, same as tx.Derive's
// contract-address reduction); it exists so repeated runs with the same
// seed produce the same addresses.
func derivePredeployedAccounts(seed string, count int, initialBalance felt.Felt) ([]rpcapi.PredeployedAccount, []felt.Felt) {
	accounts := make([]rpcapi.PredeployedAccount, count)
	privateKeys := make([]felt.Felt, count)
	for i := 0; i < count; i++ {
		privateKeys[i] = deriveAccountFelt(seed, "priv", i)
		pub := deriveAccountFelt(seed, "pub", i)
		addr := deriveAccountFelt(seed, "addr", i)
		accounts[i] = rpcapi.PredeployedAccount{
			Address:        addr,
			PublicKey:      pub,
			PrivateKey:     privateKeys[i],
			InitialBalance: initialBalance,
		}
	}
	return accounts, privateKeys
}

func deriveAccountFelt(seed, role string, index int) felt.Felt {
	h := sha256.New()
	h.Write([]byte("starkdevnet_account"))
	h.Write([]byte(seed))
	h.Write([]byte(role))
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(index))
	h.Write(buf)
	f, _ := felt.FromBytes(h.Sum(nil))
	return f
}

func feltOrZero(hex string) felt.Felt {
	if hex == "" {
		return felt.Zero
	}
	f, err := felt.FromHex(hex)
	if err != nil {
		logrus.WithField("value", hex).Warn("devnetd: invalid hex felt in config, treating as zero")
		return felt.Zero
	}
	return f
}

func feltOrDefault(hex string, def felt.Felt) felt.Felt {
	if hex == "" {
		return def
	}
	return feltOrZero(hex)
}

func stringOrDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
