package main

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/akamensky/argparse"
	"github.com/junbin-yang/fastboot-go/pkg/fastboot"
	"github.com/junbin-yang/fastboot-go/pkg/frame"
	"github.com/junbin-yang/fastboot-go/pkg/utils/config"
	"github.com/junbin-yang/fastboot-go/pkg/utils/logger"
)

func main() {
	args := argparse.NewParser(config.APPNAME, "fastboot device daemon (USB/TCP/UDP)")

	cfile := args.String("c", "config", &argparse.Options{Required: false, Help: "Configuration file path"})
	level := args.String("l", "level", &argparse.Options{Required: false, Help: "Override log level (debug/info/warn/error)"})
	rebootCmd := args.String("r", "reboot-cmd", &argparse.Options{Required: false,
		Help: "Command executed on reboot requests, the target is appended as argument"})
	version := args.Flag("v", "version", &argparse.Options{Help: "Print version and exit"})

	if err := args.Parse(os.Args); err != nil {
		fmt.Print(args.Usage(err))
		os.Exit(1)
	}
	if *version {
		fmt.Println(config.APPNAME + ", version: " + config.VERSION + " (built at " + config.BUILD_TIME + ") " + config.GO_VERSION)
		return
	}

	conf, err := config.Parse(*cfile)
	if err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if *level != "" {
		conf.Logger.Level = *level
	}
	config.SetupLogger(conf)
	defer logger.Sync()

	var opts []frame.Option
	if *rebootCmd != "" {
		opts = append(opts, frame.WithRebootFunc(execReboot(*rebootCmd)))
	}

	server, err := frame.NewServer(conf, opts...)
	if err != nil {
		logger.Fatalf("[MAIN] 初始化失败: %v", err)
	}
	if err := server.Start(); err != nil {
		logger.Fatalf("[MAIN] 启动失败: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Infof("[MAIN] 收到信号 %v，正在关闭...", sig)
	server.Stop()
}

// execReboot 把重启请求转交给外部命令
func execReboot(command string) func(target fastboot.RebootTarget) error {
	return func(target fastboot.RebootTarget) error {
		fields := strings.Fields(command)
		if target != fastboot.RebootNormal {
			fields = append(fields, string(target))
		}
		logger.Infof("[MAIN] 执行重启命令: %s", strings.Join(fields, " "))
		out, err := exec.Command(fields[0], fields[1:]...).CombinedOutput()
		if err != nil {
			return fmt.Errorf("%s: %w (%s)", fields[0], err, strings.TrimSpace(string(out)))
		}
		return nil
	}
}
