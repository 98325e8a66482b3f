package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/bakkerme/topic-finder/internal/app"
	"github.com/bakkerme/topic-finder/internal/config"
	"github.com/bakkerme/topic-finder/internal/core"
	"github.com/bakkerme/topic-finder/internal/host"
	"github.com/bakkerme/topic-finder/internal/host/memory"
	"github.com/bakkerme/topic-finder/internal/host/telegram"
	"github.com/bakkerme/topic-finder/internal/observability"
)

const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitConfigError  = 2
)

func main() {
	cliApp := &cli.App{
		Name:  "topicfinder",
		Usage: "Proposes conversation topics to quiet chat groups",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "Plugin config YAML",
				EnvVars: []string{"TOPIC_FINDER_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Value:   "data",
				Usage:   "Directory for caches and the message log",
				EnvVars: []string{"TOPIC_FINDER_DATA_DIR"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "debug, info, warn or error",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run the Telegram bot host with the plugin",
				Action: runBot,
			},
			{
				Name:   "generate",
				Usage:  "Generate one topic and print it",
				Action: generateTopic,
			},
			{
				Name:  "webinfo",
				Usage: "Fetch web headlines and print them",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "force",
						Aliases: []string{"f"},
						Usage:   "Ignore the cache and call the web model",
					},
				},
				Action: printWebInfo,
			},
			{
				Name:   "refresh",
				Usage:  "Refresh the RSS cache now",
				Action: refreshFeeds,
			},
			{
				Name:   "config",
				Usage:  "Print the config summary",
				Action: printConfig,
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitGeneralError)
	}
}

func loadApp(c *cli.Context) (*app.App, error) {
	env := config.LoadEnv()
	env.ConfigPath = c.String("config")
	env.LogLevel = c.String("log-level")
	if dataDir := c.String("data-dir"); dataDir != env.DataDir {
		if os.Getenv("DATABASE_PATH") == "" {
			env.Telegram.DatabasePath = filepath.Join(dataDir, "messages.db")
		}
		env.DataDir = dataDir
	}

	logger := app.NewLogger(os.Stderr, env.LogLevel)
	a, err := app.Load(env, logger)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("load config: %v", err), ExitConfigError)
	}
	return a, nil
}

// offlineHost pairs an in-memory chat registry with the configured models.
func offlineHost(a *app.App) host.Host {
	h := memory.New().API(a.Env.BotConfigPath)
	h.LLM = a.LLM
	return h
}

func runBot(c *cli.Context) error {
	a, err := loadApp(c)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = core.WithLogger(ctx, a.Logger)

	shutdown, err := observability.InitTracing(ctx, a.Logger, a.Env.OTel)
	if err != nil {
		return cli.Exit(fmt.Sprintf("init tracing: %v", err), ExitConfigError)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdown(flushCtx)
	}()

	store, err := telegram.OpenStore(ctx, a.Env.Telegram.DatabasePath)
	if err != nil {
		return cli.Exit(fmt.Sprintf("open message log: %v", err), ExitGeneralError)
	}
	defer store.Close()

	bot, err := telegram.New(ctx, a.Env.Telegram.BotToken, store, a.Logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("start telegram: %v", err), ExitConfigError)
	}
	p, err := a.NewPlugin(bot.API(a.LLM, a.Env.BotConfigPath))
	if err != nil {
		return err
	}
	defer p.Close()

	if res := p.Start(ctx); !res.OK {
		a.Logger.Error("plugin start handler failed", "status", res.Status)
	}
	if a.Env.MetricsAddr != "" {
		go func() {
			if err := observability.ServeMetrics(ctx, a.Env.MetricsAddr, a.Registry, a.Logger); err != nil {
				a.Logger.Error("metrics server stopped", "error", err)
			}
		}()
	}

	a.Logger.Info("topic finder running", "components", len(p.Components()))
	bot.Run(ctx, func(ctx context.Context, msg host.Message) {
		if res := p.HandleMessage(ctx, msg); !res.OK {
			a.Logger.Warn("message handler failed", "chat_id", msg.ChatID, "status", res.Status)
		}
	})
	return nil
}

func generateTopic(c *cli.Context) error {
	a, err := loadApp(c)
	if err != nil {
		return err
	}
	p, err := a.NewPlugin(offlineHost(a))
	if err != nil {
		return err
	}
	defer p.Close()

	fmt.Fprintln(c.App.Writer, p.GenerateTopicContent(core.WithLogger(c.Context, a.Logger)))
	return nil
}

func printWebInfo(c *cli.Context) error {
	a, err := loadApp(c)
	if err != nil {
		return err
	}
	ctx := core.WithLogger(c.Context, a.Logger)

	var items []core.Item
	if c.Bool("force") {
		items, err = a.Web.Refresh(ctx)
		if err != nil {
			return cli.Exit(fmt.Sprintf("fetch web info: %v", err), ExitGeneralError)
		}
	} else {
		items = a.Web.Get(ctx)
	}
	if len(items) == 0 {
		return cli.Exit("no web info available; check web_llm settings", ExitGeneralError)
	}
	for i, item := range items {
		fmt.Fprintf(c.App.Writer, "%d. %s\n   %s\n", i+1, item.Title, item.Description)
	}
	return nil
}

func refreshFeeds(c *cli.Context) error {
	a, err := loadApp(c)
	if err != nil {
		return err
	}
	items, err := a.Feeds.Update(core.WithLogger(c.Context, a.Logger))
	if err != nil {
		return cli.Exit(fmt.Sprintf("refresh rss cache: %v", err), ExitGeneralError)
	}
	fmt.Fprintf(c.App.Writer, "cached %d items from %d sources\n", len(items), len(a.Config.RSS.Sources))
	return nil
}

func printConfig(c *cli.Context) error {
	a, err := loadApp(c)
	if err != nil {
		return err
	}
	p, err := a.NewPlugin(offlineHost(a))
	if err != nil {
		return err
	}
	defer p.Close()

	fmt.Fprintln(c.App.Writer, p.ConfigSummary())
	return nil
}
