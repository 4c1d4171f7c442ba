package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/liuran001/BiliSummary-Go/summary/app"
)

var (
	versionName = ""
	commitSHA   = ""
	buildTime   = ""
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("c", "config.ini", "配置文件")
	video := flag.String("v", "", "视频 BV 号、av 号或链接")
	stream := flag.Bool("s", false, "流式输出到标准输出")
	reuse := flag.Bool("r", false, "优先使用已保存的总结")
	flag.Parse()

	if *video == "" {
		fmt.Fprintln(os.Stderr, "usage: bilisummary -c config.ini -v <BV id or URL> [-s] [-r]")
		return 2
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	buildInfo := app.BuildInfo{
		RuntimeVer: runtime.Version(),
		BinVersion: versionName,
		CommitSHA:  commitSHA,
		BuildTime:  buildTime,
		BuildArch:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}

	application, err := app.New(ctx, *configPath, buildInfo, app.Options{ReuseCached: *reuse})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		_ = application.Shutdown(shutdownCtx)
	}()

	if err := application.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	var onToken func(string) error
	if *stream {
		onToken = func(token string) error {
			_, err := fmt.Fprint(os.Stdout, token)
			return err
		}
	}

	result, err := application.Analysis.Summarize(ctx, *video, onToken)
	if err != nil {
		application.Logger.Error("summarize failed", "video", *video, "error", err)
		return 1
	}
	if *stream {
		fmt.Fprintln(os.Stdout)
		return 0
	}
	fmt.Fprintln(os.Stdout, result.Content)
	return 0
}
