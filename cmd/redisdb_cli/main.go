// redisdb_cli 入口：一次性执行单条 Redis 命令并打印回复。
// 支持：--addr 直连 / --config YAML 配置 / --utf8 校验 / --verbose 连接日志。
// 说明：回复按 redis-cli 风格渲染，嵌套数组缩进展开。
package main

import (
	"flag"
	"fmt"
	"log"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"redisdb/client"
	"redisdb/resp"
)

func main() {
	addr := flag.String("addr", "", "server address, e.g. 127.0.0.1:6379")
	configPath := flag.String("config", "", "YAML config file (flags override it)")
	utf8Mode := flag.Bool("utf8", false, "validate bulk replies as UTF-8")
	verbose := flag.Bool("verbose", false, "log connection lifecycle")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		log.Fatal("usage: redisdb_cli [flags] COMMAND [ARG...]")
	}

	cfg := client.DefaultConfig()
	if *configPath != "" {
		loaded, err := client.LoadConfig(*configPath)
		if err != nil {
			log.Fatal(err)
		}
		cfg = loaded
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *utf8Mode {
		cfg.UTF8 = true
	}

	var logger *zap.Logger
	if *verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			log.Fatal(err)
		}
		logger = l
		defer func() { _ = l.Sync() }()
	}

	c, err := client.Connect(cfg, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	reply, err := c.DoStrings(args...)
	if err != nil {
		log.Fatalf("(error) %v", err)
	}
	fmt.Print(formatReply(reply, 0))
}

// formatReply 按 redis-cli 的习惯渲染回复，嵌套数组逐层缩进。
func formatReply(r resp.Reply, depth int) string {
	pad := strings.Repeat("  ", depth)
	switch v := r.(type) {
	case *resp.StatusReply:
		return pad + v.Status + "\n"
	case *resp.ErrorReply:
		return pad + "(error) " + v.Status + "\n"
	case *resp.IntReply:
		return pad + "(integer) " + strconv.FormatInt(v.Code, 10) + "\n"
	case *resp.BulkReply:
		if v.IsNull() {
			return pad + "(nil)\n"
		}
		return pad + strconv.Quote(string(v.Arg)) + "\n"
	case *resp.MultiBulkReply:
		if len(v.Replies) == 0 {
			return pad + "(empty array)\n"
		}
		var b strings.Builder
		for i, item := range v.Replies {
			b.WriteString(fmt.Sprintf("%s%d) ", pad, i+1))
			sub := formatReply(item, depth+1)
			b.WriteString(strings.TrimPrefix(sub, pad+"  "))
		}
		return b.String()
	default:
		return pad + fmt.Sprintf("%v\n", r)
	}
}
