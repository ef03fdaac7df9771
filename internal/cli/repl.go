package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"nijichat/internal/chat"
	"nijichat/internal/models"
)

const helpText = `commands:
  /login [email]    sign in
  /signup [email]   create an account
  /logout           sign out
  /new              start a new conversation
  /list             list conversations
  /open N           open conversation N from /list
  /history          show the current thread
  /copy [N]         copy assistant message N (default: the latest)
  /quit             leave
anything else is sent as a message`

// REPL reads intents line by line and turns them into calls on the chat app.
type REPL struct {
	app          *chat.App
	in           *bufio.Reader
	out          io.Writer
	readPassword func() (string, error)
}

// NewREPL builds a REPL. A nil readPassword reads the password as a plain line from in.
func NewREPL(app *chat.App, in io.Reader, out io.Writer, readPassword func() (string, error)) *REPL {
	r := &REPL{app: app, in: bufio.NewReader(in), out: out}
	if readPassword == nil {
		readPassword = r.readLine
	}
	r.readPassword = readPassword
	return r
}

func (r *REPL) Run(ctx context.Context) error {
	r.println("nijichat - type /help for commands")
	if r.app.Snapshot().Session == nil {
		r.println("you are signed out, use /login or /signup")
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		if r.app.Snapshot().Session == nil {
			fmt.Fprint(r.out, "(signed out) > ")
		} else {
			fmt.Fprint(r.out, "> ")
		}
		line, err := r.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if quit := r.handle(ctx, line); quit {
			return nil
		}
	}
}

func (r *REPL) handle(ctx context.Context, line string) bool {
	if !strings.HasPrefix(line, "/") {
		r.send(ctx, line)
		return false
	}
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		r.println(helpText)
	case "/login":
		r.authenticate(ctx, arg, r.app.Login)
	case "/signup":
		r.authenticate(ctx, arg, r.app.SignUp)
	case "/logout":
		r.app.Logout(ctx)
		r.println("signed out")
	case "/new":
		if id := r.app.NewConversation(); id != "" {
			r.println("new conversation " + id)
		} else {
			r.println("sign in first")
		}
	case "/list":
		r.listConversations()
	case "/open":
		r.openConversation(ctx, arg)
	case "/history":
		r.printThread()
	case "/copy":
		r.copyMessage(arg)
	default:
		r.println("unknown command " + cmd + ", try /help")
	}
	return false
}

func (r *REPL) authenticate(ctx context.Context, email string, action func(context.Context)) {
	if email == "" {
		fmt.Fprint(r.out, "email: ")
		line, err := r.readLine()
		if err != nil {
			return
		}
		email = strings.TrimSpace(line)
	}
	fmt.Fprint(r.out, "password: ")
	password, err := r.readPassword()
	if err != nil {
		r.println("read password: " + err.Error())
		return
	}
	r.app.SetCredentials(email, password)
	action(ctx)
	state := r.app.Snapshot()
	switch {
	case state.AuthError != "":
		r.println(state.AuthError)
	case state.Session != nil:
		r.println("signed in as " + state.Session.User.Email)
	}
}

func (r *REPL) send(ctx context.Context, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	before := r.app.Snapshot()
	if before.Session == nil {
		r.println("sign in first with /login")
		return
	}
	r.app.SetInput(text)
	if err := r.app.Submit(ctx, text); err != nil {
		r.println("message not saved: " + err.Error())
		return
	}
	after := r.app.Snapshot()
	if n := len(after.Messages); n > 0 && after.Messages[n-1].Role == models.RoleAssistant {
		r.println("nijiAI: " + after.Messages[n-1].Content)
	}
}

func (r *REPL) listConversations() {
	conversations := r.app.Snapshot().Conversations
	if len(conversations) == 0 {
		r.println("no conversations yet")
		return
	}
	for i, c := range conversations {
		fmt.Fprintf(r.out, "%d. %s  (%s)\n", i+1, c.LastMessage, c.CreatedAt.Local().Format("Jan 2, 3:04 PM"))
	}
}

func (r *REPL) openConversation(ctx context.Context, arg string) {
	conversations := r.app.Snapshot().Conversations
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(conversations) {
		r.println("usage: /open N, see /list")
		return
	}
	if err := r.app.SelectConversation(ctx, conversations[n-1].ID); err != nil {
		r.println("could not load conversation: " + err.Error())
		return
	}
	r.printThread()
}

func (r *REPL) printThread() {
	messages := r.app.Snapshot().Messages
	if len(messages) == 0 {
		r.println("no messages")
		return
	}
	for i, msg := range messages {
		who := "you"
		if msg.Role == models.RoleAssistant {
			who = "nijiAI"
		}
		fmt.Fprintf(r.out, "[%d] %s: %s\n", i+1, who, msg.Content)
	}
}

func (r *REPL) copyMessage(arg string) {
	messages := r.app.Snapshot().Messages
	idx := -1
	if arg == "" {
		for i := len(messages) - 1; i >= 0; i-- {
			if messages[i].Role == models.RoleAssistant {
				idx = i
				break
			}
		}
	} else if n, err := strconv.Atoi(arg); err == nil && n >= 1 && n <= len(messages) {
		idx = n - 1
	}
	if idx < 0 {
		r.println("nothing to copy")
		return
	}
	key := chat.MessageKey(messages[idx])
	if !r.app.Copy(key) {
		r.println("only assistant messages can be copied")
		return
	}
	if r.app.Copied(key) {
		r.println("copied")
	} else {
		r.println("copy failed")
	}
}

func (r *REPL) readLine() (string, error) {
	line, err := r.in.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (r *REPL) println(s string) {
	fmt.Fprintln(r.out, s)
}
