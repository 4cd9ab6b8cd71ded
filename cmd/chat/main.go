// Package main 是终端聊天客户端的入口点。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"chat-relay-go/pkg/chatclient"
	"chat-relay-go/pkg/log"

	"github.com/caarlos0/env/v11"
)

// cliConfig 只从环境变量读取。
type cliConfig struct {
	ServerURL      string `env:"CHAT_SERVER_URL" envDefault:"http://localhost:3000"`
	ConversationID uint   `env:"CHAT_CONVERSATION_ID"`
	// LogLevel 为空时不输出日志，避免与对话内容混在一起
	LogLevel string `env:"CHAT_LOG_LEVEL"`
}

func main() {
	cfg := cliConfig{}
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "parse config: %v\n", err)
		os.Exit(1)
	}
	if cfg.LogLevel != "" {
		log.Init(cfg.LogLevel, "console", "")
		defer log.Sync()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := newREPL(chatclient.New(cfg.ServerURL), os.Stdout)
	if err := r.refresh(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "无法连接到 %s: %v\n", cfg.ServerURL, err)
		os.Exit(1)
	}
	if cfg.ConversationID != 0 {
		if err := r.open(ctx, cfg.ConversationID); err != nil {
			fmt.Fprintf(os.Stderr, "打开会话失败: %v\n", err)
		}
	}

	if err := r.run(ctx, os.Stdin); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
