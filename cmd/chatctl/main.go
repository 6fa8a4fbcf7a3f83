package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"safetrade-chat/config"
	"safetrade-chat/internal/api"
	"safetrade-chat/internal/chatsync"
	"safetrade-chat/internal/domain/message"
	"safetrade-chat/internal/events"
	"safetrade-chat/internal/redis"
	"safetrade-chat/internal/services"
	safetrade_errors "safetrade-chat/pkg/errors"
	"safetrade-chat/pkg/logger"
)

func main() {
	app := &cli.App{
		Name:  "chatctl",
		Usage: "SafeTrade chat client - inbox, live conversation tail and sending",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "user",
				Usage:    "id of the user to act as",
				EnvVars:  []string{"CHAT_USER_ID"},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "api-url",
				Usage:   "chat API base URL (defaults to API_BASE_URL)",
				EnvVars: []string{"CHAT_API_URL"},
			},
			&cli.StringFlag{
				Name:    "realtime-url",
				Usage:   "realtime WebSocket URL (defaults to REALTIME_URL)",
				EnvVars: []string{"CHAT_REALTIME_URL"},
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "bearer token; minted from JWT_SECRET when empty",
				EnvVars: []string{"ACCESS_TOKEN"},
			},
			&cli.StringFlag{
				Name:    "feed",
				Usage:   "change feed transport: websocket, or redis for in-cluster use (REDIS_* settings)",
				Value:   "websocket",
				EnvVars: []string{"CHAT_FEED"},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "log engine activity to stderr",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "show the inbox",
				Action: runList,
			},
			{
				Name:      "tail",
				Usage:     "print a conversation and follow new messages and typing",
				ArgsUsage: "<conversation-id>",
				Action:    runTail,
			},
			{
				Name:      "send",
				Usage:     "send a message",
				ArgsUsage: "<conversation-id> <text...>",
				Action:    runSend,
			},
			{
				Name:  "open",
				Usage: "get or create the conversation for a listing",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "listing", Required: true},
					&cli.StringFlag{Name: "buyer", Required: true},
					&cli.StringFlag{Name: "seller", Required: true},
				},
				Action: runOpen,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// newSession wires an engine session against the remote API and gateway.
func newSession(c *cli.Context) (*chatsync.Session, func(), error) {
	cfg := config.LoadConfig()
	if v := c.String("api-url"); v != "" {
		cfg.APIBaseURL = v
	}
	if v := c.String("realtime-url"); v != "" {
		cfg.RealtimeURL = v
	}

	zl := zap.NewNop()
	if c.Bool("verbose") {
		zl = logger.New(cfg.LogMode).Logger
	}

	userID := c.String("user")
	token := c.String("token")
	if token == "" {
		minted, _, err := services.NewAuthService(cfg).IssueAccessToken(userID)
		if err != nil {
			return nil, nil, fmt.Errorf("mint token: %w", err)
		}
		token = minted
	}

	backend := api.NewClient(cfg.APIBaseURL, token, zl)
	feed, closeFeed, err := newFeed(c, cfg, token, zl)
	if err != nil {
		return nil, nil, err
	}
	s, err := chatsync.NewSession(userID, backend, feed, chatsync.OptionsFromConfig(cfg), zl)
	if err != nil {
		closeFeed()
		return nil, nil, err
	}
	cleanup := func() {
		s.Close()
		closeFeed()
		_ = zl.Sync()
	}
	return s, cleanup, nil
}

func newFeed(c *cli.Context, cfg *config.Config, token string, zl *zap.Logger) (events.Feed, func(), error) {
	switch c.String("feed") {
	case "", "websocket":
		return events.NewWebSocketFeed(cfg.RealtimeURL, token, zl), func() {}, nil
	case "redis":
		client, err := redis.Connect(c.Context, redis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, nil, err
		}
		return events.NewRedisFeed(client, zl), func() { _ = client.Close() }, nil
	}
	return nil, nil, cli.Exit(fmt.Sprintf("unknown feed %q (want websocket or redis)", c.String("feed")), 2)
}

func runList(c *cli.Context) error {
	s, cleanup, err := newSession(c)
	if err != nil {
		return err
	}
	defer cleanup()

	list, err := s.Conversations(c.Context)
	if err != nil {
		return err
	}
	for _, conv := range list.Conversations() {
		counterpart := conv.SellerName
		if conv.SellerID == s.ViewerID() {
			counterpart = conv.BuyerName
		}
		fmt.Printf("%s  %-30s  %-16s  unread=%d  security=%s  %s\n",
			conv.ID, conv.Listing.Title, counterpart, conv.Metrics.UnreadCount,
			conv.Metrics.SecurityLevel, conv.Metrics.LastActivity.Format(time.RFC3339))
	}
	fmt.Printf("total unread: %d, security alerts: %d\n", list.TotalUnreadCount(), list.SecurityAlerts())
	return nil
}

func runTail(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("usage: chatctl tail <conversation-id>", 2)
	}
	s, cleanup, err := newSession(c)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	view, err := s.OpenConversation(ctx, c.Args().First())
	if err != nil {
		return err
	}

	printed := make(map[string]bool)
	var typingLine string
	render := func() {
		for _, m := range view.Messages() {
			if !m.Confirmed() || printed[m.ID] {
				continue
			}
			printed[m.ID] = true
			printMessage(s.ViewerID(), m)
		}
		var names []string
		for _, p := range view.TypingPeers() {
			names = append(names, p.DisplayName)
		}
		if line := strings.Join(names, ", "); line != typingLine {
			typingLine = line
			if line != "" {
				fmt.Printf("  ... %s typing\n", line)
			}
		}
	}
	render()

	changes := make(chan struct{}, 1)
	view.OnChange(func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	})

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changes:
			render()
		}
	}
}

func runSend(c *cli.Context) error {
	if c.NArg() < 2 {
		return cli.Exit("usage: chatctl send <conversation-id> <text...>", 2)
	}
	s, cleanup, err := newSession(c)
	if err != nil {
		return err
	}
	defer cleanup()

	view, err := s.OpenConversation(c.Context, c.Args().First())
	if err != nil {
		return err
	}
	sent, err := view.Send(c.Context, strings.Join(c.Args().Tail(), " "), "")
	var blocked *safetrade_errors.BlockedError
	switch {
	case errors.As(err, &blocked):
		reason := blocked.Reason
		if blocked.Detail != "" && blocked.Detail != reason {
			reason += ": " + blocked.Detail
		}
		return cli.Exit(fmt.Sprintf("blocked: %s (risk %s, score %d, flags %s)",
			reason, blocked.RiskLevel, blocked.Score, strings.Join(blocked.Flags, ",")), 3)
	case err != nil:
		return err
	case sent == nil:
		return cli.Exit("nothing to send", 2)
	}
	printMessage(s.ViewerID(), *sent)
	return nil
}

func runOpen(c *cli.Context) error {
	s, cleanup, err := newSession(c)
	if err != nil {
		return err
	}
	defer cleanup()

	list, err := s.Conversations(c.Context)
	if err != nil {
		return err
	}
	conv, err := list.GetOrCreateConversation(c.Context, c.String("listing"), c.String("buyer"), c.String("seller"))
	var verr *safetrade_errors.VerificationRequiredError
	if errors.As(err, &verr) {
		return cli.Exit("identity verification required for: "+strings.Join(verr.UserIDs, ", "), 3)
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s  %s  buyer=%s seller=%s security=%s\n",
		conv.ID, conv.Listing.Title, conv.BuyerName, conv.SellerName, conv.Metrics.SecurityLevel)
	return nil
}

func printMessage(viewerID string, m message.Message) {
	who := m.SenderName
	if m.SenderID == viewerID {
		who = "you"
	}
	if who == "" {
		who = m.SenderID
	}
	line := fmt.Sprintf("[%s] %s: %s (%s)", m.CreatedAt.Local().Format("15:04:05"), who, m.Content, m.Status)
	if m.FraudRisk.IsAlert() {
		line += fmt.Sprintf("  !! %s risk", m.FraudRisk)
	}
	fmt.Println(line)
}
