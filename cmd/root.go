// Copyright (c) 2019-present The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/zancas/zingo-indexer/backend"
	"github.com/zancas/zingo-indexer/chainstate"
	"github.com/zancas/zingo-indexer/common"
	"github.com/zancas/zingo-indexer/common/logging"
	"github.com/zancas/zingo-indexer/darkside"
	"github.com/zancas/zingo-indexer/frontend"
)

var cfgFile string
var logger = logrus.New()

// healthInterval is how often gRPC health follows synchronizer health.
const healthInterval = time.Second

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "zingo-indexer",
	Short: "Zingo-indexer mirrors a Zcash full node for light clients",
	Long: `Zingo-indexer keeps an in-memory mirror of a Zcash full node's
         best chain, mempool and recent treestates, and serves it over
         gRPC health, HTTP and a framed mixnet listener`,
	Run: func(cmd *cobra.Command, args []string) {
		opts := optionsFromViper()

		common.Log.Debugf("Options: %#v\n", opts)

		filesThatShouldExist := []string{
			opts.TLSCertPath,
			opts.TLSKeyPath,
			opts.CheckpointFile,
			opts.DarksideBlocksFile,
		}
		if !opts.Darkside && opts.RPCUser == "" {
			filesThatShouldExist = append(filesThatShouldExist, opts.ZcashConfPath)
		}
		for _, filename := range filesThatShouldExist {
			if filename == "" {
				continue
			}
			if (opts.NoTLSVeryInsecure || opts.GenCertVeryInsecure) &&
				(filename == opts.TLSCertPath || filename == opts.TLSKeyPath) {
				continue
			}
			if !fileExists(filename) {
				os.Stderr.WriteString(fmt.Sprintf("\n  ** File does not exist: %s\n\n", filename))
				os.Exit(1)
			}
		}

		// Start server and block, or exit
		if err := startServer(opts); err != nil {
			common.Log.WithFields(logrus.Fields{
				"error": err,
			}).Fatal("couldn't create server")
		}
	},
}

func optionsFromViper() *common.Options {
	return &common.Options{
		GRPCBindAddr:        viper.GetString("grpc-bind-addr"),
		HTTPBindAddr:        viper.GetString("http-bind-addr"),
		NymBindAddr:         viper.GetString("nym-bind-addr"),
		TLSCertPath:         viper.GetString("tls-cert"),
		TLSKeyPath:          viper.GetString("tls-key"),
		LogLevel:            viper.GetUint64("log-level"),
		LogFile:             viper.GetString("log-file"),
		ZcashConfPath:       viper.GetString("zcash-conf-path"),
		RPCUser:             viper.GetString("rpcuser"),
		RPCPassword:         viper.GetString("rpcpassword"),
		RPCHost:             viper.GetString("rpchost"),
		RPCPort:             viper.GetString("rpcport"),
		NoTLSVeryInsecure:   viper.GetBool("no-tls-very-insecure"),
		GenCertVeryInsecure: viper.GetBool("gen-cert-very-insecure"),
		CheckpointFile:      viper.GetString("checkpoint-file"),
		Darkside:            viper.GetBool("darkside-very-insecure"),
		DarksideBlocksFile:  viper.GetString("darkside-blocks-file"),
		DarksideTimeout:     viper.GetUint64("darkside-timeout"),
		RPCTimeout:          viper.GetDuration("rpc-timeout"),
		RPCRetries:          viper.GetInt("rpc-retries"),
		RPCRateLimit:        viper.GetFloat64("rpc-rate-limit"),
		PollInterval:        viper.GetDuration("poll-interval"),
		DegradedAfter:       viper.GetInt("degraded-after"),
		MaxReorgDepth:       viper.GetInt("max-reorg-depth"),
		ResyncOnDeepReorg:   viper.GetBool("resync-on-deep-reorg"),
		TreeStateWindow:     viper.GetInt("treestate-window"),
		MaxBlocks:           viper.GetInt("max-blocks"),
		SubscriberQueue:     viper.GetInt("subscriber-queue"),
		StartHeight:         viper.GetUint32("start-height"),
		MaxStaleness:        viper.GetDuration("max-staleness"),
	}
}

func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return !info.IsDir()
}

// setupLogging directs logs to a rotating JSON log file when one is
// configured; the returned function closes it.
func setupLogging(opts *common.Options) func() error {
	logger.SetLevel(logrus.Level(opts.LogLevel))
	logging.LogToStderr = opts.LogLevel >= uint64(logrus.DebugLevel)
	if opts.LogFile == "" {
		return func() error { return nil }
	}
	// instead write parsable logs for logstash/splunk/etc
	output := &lumberjack.Logger{
		Filename:   opts.LogFile,
		MaxSize:    100, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
	}
	logger.SetOutput(output)
	logger.SetFormatter(&logrus.JSONFormatter{})
	return output.Close
}

// connectNode points common.RawRequest at the zcashd named by the options.
func connectNode(opts *common.Options) error {
	var nc *backend.NodeConfig
	var err error
	if opts.RPCUser != "" && opts.RPCPassword != "" {
		nc, err = backend.NodeConfigFromFlags(opts.RPCHost, opts.RPCPort, opts.RPCUser, opts.RPCPassword)
	} else {
		nc, err = backend.LoadNodeConfig(opts.ZcashConfPath)
	}
	if err != nil {
		return fmt.Errorf("reading node RPC settings: %w", err)
	}
	conn, err := backend.Dial(nc, opts.RPCTimeout)
	if err != nil {
		return fmt.Errorf("setting up RPC connection to zcashd: %w", err)
	}
	common.RawRequest = conn.RawRequest
	common.Log.WithFields(logrus.Fields{
		"host":    nc.Host,
		"timeout": opts.RPCTimeout,
	}).Info("using zcashd")
	return nil
}

// startDarkside replaces the node with an in-process fake chain, loaded
// from the darkside blocks file or, lacking one, a run of empty blocks.
func startDarkside(opts *common.Options) error {
	start := int(opts.StartHeight)
	if start == 0 {
		start = 1
	}
	node := darkside.New(start, "regtest", "c2d6d0b4")
	if opts.DarksideBlocksFile != "" {
		f, err := os.Open(opts.DarksideBlocksFile)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := node.StageBlocksFrom(f); err != nil {
			return fmt.Errorf("staging darkside blocks: %w", err)
		}
	} else if err := node.StageBlocksCreate(start, 0, 100); err != nil {
		return err
	}
	if err := node.ApplyStaged(math.MaxInt32); err != nil {
		return fmt.Errorf("applying darkside blocks: %w", err)
	}
	common.RawRequest = node.RawRequest
	common.Log.Warn("darkside mode, serving a fake chain")
	return nil
}

func newGRPCServer(opts *common.Options) (*grpc.Server, error) {
	serverOpts := []grpc.ServerOption{
		grpc.StatsHandler(&connStatsHandler{}),
		grpc.StreamInterceptor(grpc_middleware.ChainStreamServer(
			logging.StreamLogInterceptor,
			grpc_recovery.StreamServerInterceptor(),
			grpc_prometheus.StreamServerInterceptor),
		),
		grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(
			logging.LogInterceptor,
			grpc_recovery.UnaryServerInterceptor(),
			grpc_prometheus.UnaryServerInterceptor),
		),
	}
	switch {
	case opts.NoTLSVeryInsecure:
		common.Log.Warningln("Starting insecure no-TLS (plaintext) server")
		fmt.Println("Starting insecure server")
	case opts.GenCertVeryInsecure:
		common.Log.Warning("Certificate and key not provided, generating self signed values")
		fmt.Println("Starting insecure self-certificate server")
		host, _, err := net.SplitHostPort(opts.GRPCBindAddr)
		if err != nil {
			return nil, err
		}
		cert, err := common.GenerateCerts(host)
		if err != nil {
			return nil, err
		}
		serverOpts = append(serverOpts,
			grpc.Creds(credentials.NewTLS(&tls.Config{Certificates: []tls.Certificate{*cert}})))
	default:
		transportCreds, err := credentials.NewServerTLSFromFile(opts.TLSCertPath, opts.TLSKeyPath)
		if err != nil {
			common.Log.WithFields(logrus.Fields{
				"cert_file": opts.TLSCertPath,
				"key_path":  opts.TLSKeyPath,
				"error":     err,
			}).Fatal("couldn't load TLS credentials")
		}
		serverOpts = append(serverOpts, grpc.Creds(transportCreds))
	}
	grpc_prometheus.EnableHandlingTimeHistogram()
	return grpc.NewServer(serverOpts...), nil
}

func startServer(opts *common.Options) error {
	closeLog := setupLogging(opts)
	defer closeLog()

	if opts.Darkside {
		if err := startDarkside(opts); err != nil {
			return err
		}
	} else if err := connectNode(opts); err != nil {
		return err
	}

	var checkpoints []chainstate.Checkpoint
	if opts.CheckpointFile != "" {
		var err error
		if checkpoints, err = chainstate.LoadCheckpoints(opts.CheckpointFile); err != nil {
			return err
		}
		common.Log.WithFields(logrus.Fields{
			"file":        opts.CheckpointFile,
			"checkpoints": len(checkpoints),
		}).Info("loaded checkpoints")
	}

	client := backend.NewClient(backend.Options{
		Timeout:    opts.RPCTimeout,
		MaxRetries: opts.RPCRetries,
		RateLimit:  opts.RPCRateLimit,
	})
	state := chainstate.New(client, chainstate.Config{
		PollInterval:      opts.PollInterval,
		DegradedAfter:     opts.DegradedAfter,
		MaxReorgDepth:     opts.MaxReorgDepth,
		ResyncOnDeepReorg: opts.ResyncOnDeepReorg,
		TreeStateWindow:   opts.TreeStateWindow,
		MaxBlocks:         opts.MaxBlocks,
		SubscriberQueue:   opts.SubscriberQueue,
		StartHeight:       opts.StartHeight,
		Checkpoints:       checkpoints,
		Registerer:        prometheus.DefaultRegisterer,
	})

	server, err := newGRPCServer(opts)
	if err != nil {
		return err
	}
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	reporter := frontend.NewHealthReporter(healthServer, state.Health, opts.MaxStaleness)

	// Enable reflection for debugging
	if opts.LogLevel >= uint64(logrus.WarnLevel) {
		reflection.Register(server)
	}
	grpc_prometheus.Register(server)

	listener, err := net.Listen("tcp", opts.GRPCBindAddr)
	if err != nil {
		return fmt.Errorf("couldn't create listener on %s: %w", opts.GRPCBindAddr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/health", frontend.HealthHandler(state.Health, opts.MaxStaleness))
	httpServer := &http.Server{
		Addr:              opts.HTTPBindAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var nymListener net.Listener
	if opts.NymBindAddr != "" {
		if nymListener, err = net.Listen("tcp", opts.NymBindAddr); err != nil {
			return fmt.Errorf("couldn't create mixnet listener on %s: %w", opts.NymBindAddr, err)
		}
	}

	// Signal handler for graceful stops
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if opts.Darkside && opts.DarksideTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.DarksideTimeout)*time.Minute)
		defer cancel()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return state.Run(gctx)
	})
	g.Go(func() error {
		return reporter.Run(gctx, healthInterval)
	})
	g.Go(func() error {
		common.Log.Infof("Starting gRPC server on %s", opts.GRPCBindAddr)
		return server.Serve(listener)
	})
	g.Go(func() error {
		common.Log.Infof("Starting HTTP server on %s", opts.HTTPBindAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if nymListener != nil {
		nymServer := frontend.NewNymServer(state, opts.MaxStaleness, opts.RPCTimeout)
		g.Go(func() error {
			common.Log.Infof("Starting mixnet listener on %s", opts.NymBindAddr)
			return nymServer.Serve(gctx, nymListener)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		common.Log.Info("stopping servers")
		server.GracefulStop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	common.Log.Info("shut down")
	return err
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(versionCmd)
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is current directory, zingo-indexer.yaml)")

	flags := rootCmd.Flags()
	flags.String("grpc-bind-addr", "127.0.0.1:9067", "the address to serve gRPC health on")
	flags.String("http-bind-addr", "127.0.0.1:9068", "the address to serve /metrics and /health on")
	flags.String("nym-bind-addr", "", "the address to accept framed mixnet requests on (disabled if empty)")
	flags.String("tls-cert", "./cert.pem", "the path to a TLS certificate")
	flags.String("tls-key", "./cert.key", "the path to a TLS key file")
	flags.Int("log-level", int(logrus.InfoLevel), "log level (logrus 1-7)")
	flags.String("log-file", "./server.log", "log file to write to")
	flags.String("zcash-conf-path", "./zcash.conf", "conf file to pull RPC creds from")
	flags.String("rpcuser", "", "RPC user name")
	flags.String("rpcpassword", "", "RPC password")
	flags.String("rpchost", "", "RPC host")
	flags.String("rpcport", "", "RPC host port")
	flags.Bool("no-tls-very-insecure", false, "run without the required TLS certificate, only for debugging, DO NOT use in production")
	flags.Bool("gen-cert-very-insecure", false, "run with self-signed TLS certificate, only for debugging, DO NOT use in production")
	flags.String("checkpoint-file", "", "TOML file of checkpoints to start or resync from")
	flags.Bool("darkside-very-insecure", false, "run against a fake in-process chain, only for testing, DO NOT use in production")
	flags.String("darkside-blocks-file", "", "hex-encoded blocks, one per line, for the darkside chain")
	flags.Int("darkside-timeout", 30, "override default darkside timeout in minutes")
	flags.Duration("rpc-timeout", backend.DefaultTimeout, "timeout of each RPC to zcashd")
	flags.Int("rpc-retries", backend.DefaultMaxRetries, "retries of a failed RPC to zcashd")
	flags.Float64("rpc-rate-limit", 0, "maximum RPCs per second to zcashd (0 for unlimited)")
	flags.Duration("poll-interval", chainstate.DefaultPollInterval, "pause between synchronization cycles when caught up")
	flags.Int("degraded-after", chainstate.DefaultDegradedAfter, "consecutive failed cycles before reporting degraded")
	flags.Int("max-reorg-depth", chainstate.DefaultMaxReorgDepth, "deepest reorganization followed by rolling back")
	flags.Bool("resync-on-deep-reorg", false, "discard the mirror and start over when a reorganization is too deep")
	flags.Int("treestate-window", chainstate.DefaultTreeStateWindow, "number of recent blocks whose treestates are kept")
	flags.Int("max-blocks", 0, "number of blocks to retain (0 for all)")
	flags.Int("subscriber-queue", chainstate.DefaultSubscriberQueue, "events queued per subscriber before it is dropped")
	flags.Uint32("start-height", 0, "first block to mirror when no checkpoint applies")
	flags.Duration("max-staleness", 0, "report not serving when the last sync is older than this (0 to disable)")

	viper.BindPFlags(flags)

	logger.SetFormatter(&logrus.TextFormatter{
		//DisableColors:          true,
		FullTimestamp:          true,
		DisableLevelTruncation: true,
	})

	onexit := func() {
		fmt.Printf("Zingo-indexer died with a Fatal error. Check logfile for details.\n")
	}

	common.Log = logger.WithFields(logrus.Fields{
		"app": "zingo-indexer",
	})

	logrus.RegisterExitHandler(onexit)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Look in the current directory for a configuration file
		viper.AddConfigPath(".")
		// Viper auto appends extention to this config name
		// For example, zingo-indexer.yml
		viper.SetConfigName("zingo-indexer")
	}

	// Replace `-` in config options with `_` for ENV keys
	replacer := strings.NewReplacer("-", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv() // read in environment variables that match
	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}
