package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"chat-relay-go/pkg/chatclient"
	"chat-relay-go/pkg/log"
)

const helpText = `命令:
  /list                 列出会话
  /open <id>            打开会话
  /new                  开始新会话
  /rename <id> <title>  重命名会话
  /delete <id>          删除会话
  /quit                 退出
其余输入作为消息发送。`

// repl 是一个逐行读取输入的终端客户端，界面状态全部保存在 ChatState 中。
type repl struct {
	client *chatclient.Client
	out    io.Writer
	state  chatclient.ChatState
}

func newREPL(client *chatclient.Client, out io.Writer) *repl {
	return &repl{client: client, out: out}
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	fmt.Fprintln(r.out, helpText)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(r.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if r.handle(ctx, line) {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// handle 执行一行输入，返回 true 表示退出。
func (r *repl) handle(ctx context.Context, line string) bool {
	if !strings.HasPrefix(line, "/") {
		r.send(ctx, line)
		return false
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	var err error
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(r.out, helpText)
	case "/list":
		err = r.refresh(ctx)
		if err == nil {
			r.printConversations()
		}
	case "/new":
		r.state = r.state.NewChat()
		fmt.Fprintln(r.out, "已开始新会话")
	case "/open":
		var id uint
		if id, err = parseID(rest); err == nil {
			err = r.open(ctx, id)
		}
	case "/delete":
		var id uint
		if id, err = parseID(rest); err == nil {
			if err = r.client.DeleteConversation(ctx, id); err == nil {
				r.state = r.state.RemoveConversation(id)
				fmt.Fprintf(r.out, "已删除会话 %d\n", id)
			}
		}
	case "/rename":
		idText, title, _ := strings.Cut(rest, " ")
		var id uint
		if id, err = parseID(idText); err == nil {
			if err = r.client.RenameConversation(ctx, id, title); err == nil {
				r.state = r.state.RenameConversation(id, title)
				fmt.Fprintf(r.out, "已重命名会话 %d\n", id)
			}
		}
	default:
		fmt.Fprintf(r.out, "未知命令 %s，输入 /help 查看帮助\n", cmd)
	}
	if err != nil {
		fmt.Fprintf(r.out, "错误: %v\n", err)
	}
	return false
}

func (r *repl) refresh(ctx context.Context) error {
	conversations, err := r.client.ListConversations(ctx)
	if err != nil {
		return err
	}
	r.state = r.state.SetConversations(conversations)
	return nil
}

func (r *repl) open(ctx context.Context, id uint) error {
	messages, err := r.client.ListMessages(ctx, id)
	if err != nil {
		return err
	}
	r.state = r.state.SelectConversation(id).ReplaceMessages(messages)
	for _, m := range r.state.ActiveMessages {
		fmt.Fprintf(r.out, "[%s] %s\n", m.Role, m.Content)
	}
	return nil
}

// send 发送一轮对话并把分块实时打印出来。
func (r *repl) send(ctx context.Context, message string) {
	r.state = r.state.BeginTurn(message)

	var conversationID uint
	err := r.client.StreamTurn(ctx, r.state.ActiveConversationID, message, chatclient.Handlers{
		OnConversationID: func(id uint) { conversationID = id },
		OnNewConversationCreated: func(created bool) {
			r.state = r.state.ApplyConversationID(conversationID, created)
		},
		OnChunk: func(content string) {
			r.state = r.state.ApplyChunk(content)
			fmt.Fprint(r.out, content)
		},
	})
	fmt.Fprintln(r.out)
	if err == nil {
		r.state = r.state.CompleteTurn()
		return
	}

	r.state = r.state.FailTurn(err)
	fmt.Fprintf(r.out, "错误: %v\n", err)
	// 失败后以服务端保存的历史为准，失败的回复保留在末尾
	if id := r.state.ActiveConversationID; id != nil {
		messages, lerr := r.client.ListMessages(context.WithoutCancel(ctx), *id)
		if lerr != nil {
			log.Warnf("重新加载会话 %d 失败: %v", *id, lerr)
			return
		}
		r.state = r.state.ReplaceMessages(messages)
	}
}

func (r *repl) printConversations() {
	if len(r.state.Conversations) == 0 {
		fmt.Fprintln(r.out, "暂无会话")
		return
	}
	for _, c := range r.state.Conversations {
		marker := " "
		if id := r.state.ActiveConversationID; id != nil && *id == c.ID {
			marker = "*"
		}
		fmt.Fprintf(r.out, "%s %4d  %s\n", marker, c.ID, c.Title)
	}
}

func parseID(s string) (uint, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("无效的会话 ID %q", s)
	}
	return uint(id), nil
}
