// Package main is the entry point for postal-dispatch.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"postal-dispatch/internal/config"
	"postal-dispatch/internal/loadgen"
	"postal-dispatch/internal/logger"
	"postal-dispatch/internal/postal"
	"postal-dispatch/internal/server"
)

var (
	version = "dev"
)

// options はコマンドラインフラグの値
type options struct {
	configFile  string
	addr        string
	workers     int
	queueSize   int
	dbFile      string
	apiAddr     string
	busyMessage string
	logLevel    string

	bench       string
	target      string
	connections int
	concurrency int
	query       string
}

func main() {
	var opts options
	var (
		listPresets = flag.Bool("list-presets", false, "利用可能なプリセットを表示")
		showVersion = flag.Bool("version", false, "バージョンを表示")
	)
	flag.StringVar(&opts.configFile, "config", "", "設定ファイルパス (YAML/JSON)")
	flag.StringVar(&opts.addr, "addr", "", "待ち受けアドレス (例: :25000)")
	flag.IntVar(&opts.workers, "workers", 0, "ワーカー数")
	flag.IntVar(&opts.queueSize, "queue", 0, "受付キューの容量")
	flag.StringVar(&opts.dbFile, "db", "", "郵便番号データベース (KEN_ALL.CSV)")
	flag.StringVar(&opts.apiAddr, "api-addr", "", "APIサーバーアドレス (例: :8080)")
	flag.StringVar(&opts.busyMessage, "busy", "", "キュー満杯時に送るメッセージ")
	flag.StringVar(&opts.logLevel, "log-level", "", "ログレベル (debug, info, warn, error)")
	flag.StringVar(&opts.bench, "bench", "", "負荷生成プリセット名 (quick, burst, stress)")
	flag.StringVar(&opts.target, "target", "", "負荷生成の接続先 (省略時はプロセス内でサーバーを起動)")
	flag.IntVar(&opts.connections, "connections", 0, "負荷生成の合計接続数")
	flag.IntVar(&opts.concurrency, "concurrency", 0, "負荷生成の同時接続数")
	flag.StringVar(&opts.query, "query", "", "負荷生成で送る検索語")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `postal-dispatch - Postal Code Lookup Server

Usage:
  postal-dispatch [options]

Options:
`)
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # デフォルト設定で起動 (:25000, ワーカー 4, キュー 2)
  postal-dispatch --db KEN_ALL.CSV

  # 設定ファイルから起動
  postal-dispatch --config server.yaml

  # APIサーバー付きで起動
  postal-dispatch --db KEN_ALL.CSV --api-addr :8080

  # プロセス内のサーバーに負荷をかける
  postal-dispatch --db KEN_ALL.CSV --bench burst

  # 起動済みのサーバーに負荷をかける
  postal-dispatch --bench stress --target 127.0.0.1:25000
`)
	}

	flag.Parse()

	// バージョン表示
	if *showVersion {
		fmt.Printf("postal-dispatch version %s\n", version)
		return
	}

	// プリセット一覧表示
	if *listPresets {
		printPresets()
		return
	}

	fileConfig, err := loadFileConfig(opts.configFile)
	if err != nil {
		logger.Error("", "設定エラー: %v", err)
		os.Exit(1)
	}
	if err := applyLogLevel(fileConfig, opts.logLevel); err != nil {
		logger.Error("", "設定エラー: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\n中断シグナルを受信、終了中...")
		cancel()
	}()

	if opts.bench != "" {
		if err := runBench(ctx, fileConfig, opts); err != nil {
			logger.Error("", "負荷生成エラー: %v", err)
			os.Exit(1)
		}
		return
	}

	if err := runServer(ctx, fileConfig, opts); err != nil {
		logger.Error("", "サーバーエラー: %v", err)
		os.Exit(1)
	}
}

// loadFileConfig は設定ファイルを読み込んで検証する
// ファイル指定が無ければ空の設定を返す
func loadFileConfig(path string) (*config.FileConfig, error) {
	if path == "" {
		return &config.FileConfig{}, nil
	}
	fileConfig, err := config.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("設定ファイル読み込みエラー: %w", err)
	}
	if err := fileConfig.Validate(); err != nil {
		return nil, fmt.Errorf("設定検証エラー: %w", err)
	}
	return fileConfig, nil
}

// applyLogLevel はログレベルを設定する。フラグが設定ファイルより優先
func applyLogLevel(fileConfig *config.FileConfig, flagLevel string) error {
	name := fileConfig.LogLevel
	if flagLevel != "" {
		name = flagLevel
	}
	level, err := logger.ParseLevel(name)
	if err != nil {
		return err
	}
	logger.Default.SetLevel(level)
	return nil
}

// buildServerConfig はサーバー設定を構築する
func buildServerConfig(fileConfig *config.FileConfig, opts options) (server.Config, error) {
	cfg, err := fileConfig.ToServerConfig()
	if err != nil {
		return cfg, fmt.Errorf("設定変換エラー: %w", err)
	}

	// フラグでオーバーライド
	if opts.addr != "" {
		cfg.Addr = opts.addr
	}
	if opts.workers > 0 {
		cfg.Workers = opts.workers
	}
	if opts.queueSize > 0 {
		cfg.QueueSize = opts.queueSize
	}
	if opts.dbFile != "" {
		cfg.DBFile = opts.dbFile
	}
	if opts.apiAddr != "" {
		cfg.APIAddr = opts.apiAddr
	}
	if opts.busyMessage != "" {
		cfg.BusyMessage = opts.busyMessage
	}

	return cfg, nil
}

// buildLoadgenConfig は負荷生成設定を構築する
func buildLoadgenConfig(fileConfig *config.FileConfig, opts options) (loadgen.Config, error) {
	if opts.bench != "" {
		fileConfig.Loadgen.Preset = opts.bench
	}
	cfg, err := fileConfig.ToLoadgenConfig()
	if err != nil {
		return cfg, fmt.Errorf("設定変換エラー: %w (利用可能: %v)", err, loadgen.ListPresets())
	}

	// フラグでオーバーライド
	if opts.target != "" {
		cfg.Addr = opts.target
	}
	if opts.connections > 0 {
		cfg.Connections = opts.connections
	}
	if opts.concurrency > 0 {
		cfg.Concurrency = opts.concurrency
	}
	if opts.query != "" {
		cfg.Query = opts.query
	}

	return cfg, nil
}

// startServer はデータベースを読み込んでサーバーを起動する
func startServer(ctx context.Context, cfg server.Config) (*server.Server, error) {
	db, err := postal.LoadFile(cfg.DBFile)
	if err != nil {
		return nil, err
	}
	logger.Info("", "Loaded %d records from %s", db.Len(), cfg.DBFile)

	srv := server.New(cfg, db)
	if err := srv.Start(ctx); err != nil {
		return nil, err
	}
	return srv, nil
}

// runServer はサーバーを起動し、シグナルを受けるまで動かす
func runServer(ctx context.Context, fileConfig *config.FileConfig, opts options) error {
	cfg, err := buildServerConfig(fileConfig, opts)
	if err != nil {
		return err
	}

	fmt.Println("postal-dispatch - Postal Code Lookup Server")
	fmt.Println("===========================================")
	fmt.Printf("Address: %s\n", cfg.Addr)
	fmt.Printf("Workers: %d, Queue: %d\n", cfg.Workers, cfg.QueueSize)
	if cfg.APIAddr != "" {
		fmt.Printf("API: http://%s\n", cfg.APIAddr)
	}
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println("===========================================")
	fmt.Println()

	srv, err := startServer(ctx, cfg)
	if err != nil {
		return err
	}

	// リスナーが受付エラーで止まった場合も終了する
	select {
	case <-ctx.Done():
	case <-srv.Done():
	}

	return srv.Stop()
}

// runBench は負荷生成を実行してレポートを表示する
// 接続先の指定が無ければプロセス内でサーバーを起動する
func runBench(ctx context.Context, fileConfig *config.FileConfig, opts options) error {
	loadConfig, err := buildLoadgenConfig(fileConfig, opts)
	if err != nil {
		return err
	}

	if opts.target == "" {
		serverConfig, err := buildServerConfig(fileConfig, opts)
		if err != nil {
			return err
		}
		serverConfig.Addr = "127.0.0.1:0"

		srv, err := startServer(ctx, serverConfig)
		if err != nil {
			return err
		}
		defer func() { _ = srv.Stop() }()
		loadConfig.Addr = srv.Addr()
	}

	result, err := loadgen.New(loadConfig).Run(ctx)
	if err != nil {
		return err
	}

	// レポート出力
	fmt.Println(result.Report())
	return nil
}

// printPresets は利用可能なプリセットを表示する
func printPresets() {
	fmt.Println("利用可能な負荷生成プリセット:")
	fmt.Println()

	for _, name := range loadgen.ListPresets() {
		p, _ := loadgen.GetPreset(name)
		fmt.Printf("  %-12s %s (connections %d, concurrency %d)\n",
			p.Name, p.Description, p.Connections, p.Concurrency)
	}

	fmt.Println()
	fmt.Println("使用例: postal-dispatch --db KEN_ALL.CSV --bench burst")
}
