package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

const configEnv = "IMGCACHE_CONFIG"

func main() {
	os.Exit(execute(os.Args[1:]))
}

// execute 构建命令树并运行，返回退出码，方便测试。
func execute(args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdOut)
	root.SetErr(stdErr)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(stdErr, err.Error())
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var configFlag string

	cmd := &cobra.Command{
		Use:           "imgcache",
		Short:         "Content-addressed disk cache for remote images",
		Long:          "imgcache downloads remote images once, stores them under a deterministic path and serves them from disk.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Example: `  # Serve the HTTP API
  imgcache serve --config /etc/imgcache/config.toml

  # Warm the cache
  imgcache fetch https://cdn.example.com/a.png https://cdn.example.com/b.png

  # Show where a URL is stored
  imgcache path https://cdn.example.com/a.png`,
	}

	cmd.PersistentFlags().StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 "+configEnv+" 覆盖）")
	configPath := func() string { return resolveConfigPath(configFlag) }

	cmd.AddCommand(
		newServeCmd(configPath),
		newCheckConfigCmd(configPath),
		newVersionCmd(),
		newPathCmd(configPath),
		newFetchCmd(configPath),
		newRmCmd(configPath),
		newClearCmd(configPath),
	)
	return cmd
}

// resolveConfigPath 按 flag > 环境变量 > 默认值 的顺序确定配置路径。
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv(configEnv); path != "" {
		return path
	}
	return "config.toml"
}
