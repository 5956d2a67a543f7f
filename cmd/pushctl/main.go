// pushctl is the page side of push notifications: it registers the worker
// and drives the subscription of one role on this device.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"

	"github.com/wellio/pushagent/internal/config"
	"github.com/wellio/pushagent/internal/database"
	"github.com/wellio/pushagent/internal/models"
	"github.com/wellio/pushagent/internal/pushapi"
	"github.com/wellio/pushagent/internal/subscription"
	"github.com/wellio/pushagent/internal/useragent"
)

const usage = `usage: pushctl [flags] <command>

commands:
  register     register the worker and print the subscription state
  status       print the subscription state as JSON
  subscribe    ask for permission and enable push for the role
  unsubscribe  disable push for the role
  send-test    send a test notification to this device's subscription
  vapid-keys   generate and store a new VAPID key pair
  unregister   unsubscribe, then remove the worker registration
  reset-permission
               forget the stored notification permission

flags:
`

type cli struct {
	cfg      *config.Config
	role     models.UserType
	out      io.Writer
	errOut   io.Writer
	logger   *slog.Logger
	mgr      *subscription.Manager
	push     *useragent.PushManager
	registry *useragent.Registry
	perms    *useragent.Permissions
	toast    *toastNotifier
}

func main() {
	fs := flag.NewFlagSet("pushctl", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	configPath := fs.String("config", os.Getenv("CONFIG_PATH"), "Path to the YAML config file")
	role := fs.String("role", "", "Role to act for (coach|client); defaults to app.role")
	yes := fs.Bool("yes", false, "Grant the notification permission without prompting")
	no := fs.Bool("no", false, "Deny the notification permission without prompting")
	verbose := fs.Bool("v", false, "Log warnings and debug output to stderr")
	_ = fs.Parse(os.Args[1:])

	if fs.NArg() != 1 || (*yes && *no) {
		fs.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c, err := setup(*configPath, *role, prompter(*yes, *no), *verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pushctl: %v\n", err)
		os.Exit(1)
	}
	os.Exit(c.execute(ctx, fs.Arg(0)))
}

// execute runs command and maps its outcome to an exit code. Failures the
// manager already showed to the user are not printed again.
func (c *cli) execute(ctx context.Context, command string) int {
	err := c.run(ctx, command)
	if err == nil {
		return 0
	}
	denied := errors.Is(err, subscription.ErrPermissionDenied)
	if !denied && !c.toast.shown(err) {
		fmt.Fprintf(c.errOut, "pushctl: %v\n", err)
	}
	if denied {
		return 3
	}
	return 1
}

func prompter(yes, no bool) useragent.Prompter {
	switch {
	case yes:
		return useragent.FixedPrompter(models.PermissionGranted)
	case no:
		return useragent.FixedPrompter(models.PermissionDenied)
	default:
		return useragent.LinePrompter{In: os.Stdin, Out: os.Stderr}
	}
}

func setup(configPath, role string, p useragent.Prompter, verbose bool) (*cli, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if role != "" {
		cfg.App.Role = role
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	logLevel := slog.LevelError
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	userType := cfg.UserType()
	profile, err := subscription.ProfileFor(userType)
	if err != nil {
		return nil, err
	}
	if cfg.API.PersistAttempts > 0 {
		profile.Persist.MaxAttempts = cfg.API.PersistAttempts
	}
	if cfg.API.PersistBaseDelay > 0 {
		profile.Persist.BaseDelay = cfg.API.PersistBaseDelay
	}

	db, err := database.Initialize(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	c := &cli{
		cfg:      cfg,
		role:     userType,
		out:      os.Stdout,
		errOut:   os.Stderr,
		logger:   logger,
		push:     useragent.NewPushManager(db, cfg.Push.BaseURL),
		registry: useragent.NewRegistry(db),
		perms:    useragent.NewPermissions(db, cfg.App.Origin, p),
		toast:    &toastNotifier{out: os.Stderr},
	}
	c.mgr = subscription.New(subscription.Options{
		Profile:     profile,
		Scope:       cfg.Push.Scope,
		ScriptURL:   cfg.Push.ScriptURL,
		API:         pushapi.New(cfg.API.BaseURL, profile.APIPrefix, cfg.API.Token, &http.Client{Timeout: cfg.API.Timeout}),
		Registry:    c.registry,
		Push:        c.push,
		Permissions: c.perms,
		Capabilities: useragent.Capabilities{
			ServiceWorker: true,
			PushManager:   cfg.Push.BaseURL != "",
			Notifications: cfg.Notifications.Enabled,
		},
		Notifier: c.toast,
		Logger:   logger,
	})
	return c, nil
}

func (c *cli) run(ctx context.Context, command string) error {
	switch command {
	case "register":
		snap, err := c.mgr.Register(ctx)
		if err != nil {
			return err
		}
		return c.printState(snap)

	case "status":
		return c.printState(c.mgr.CheckSubscription(ctx))

	case "subscribe":
		if _, err := c.mgr.Register(ctx); err != nil {
			return err
		}
		ok, err := c.mgr.Subscribe(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return subscription.ErrPermissionDenied
		}
		return c.printState(c.mgr.Snapshot())

	case "unsubscribe":
		if !c.mgr.Unsubscribe(ctx) {
			return fmt.Errorf("local unsubscribe failed")
		}
		return c.printState(c.mgr.Snapshot())

	case "unregister":
		c.mgr.Unsubscribe(ctx)
		removed, err := c.registry.Unregister(ctx, c.cfg.Push.Scope)
		if err != nil {
			return err
		}
		if !removed {
			fmt.Fprintf(c.out, "no worker registered for scope %s\n", c.cfg.Push.Scope)
			return nil
		}
		fmt.Fprintf(c.out, "worker unregistered for scope %s\n", c.cfg.Push.Scope)
		return nil

	case "reset-permission":
		if err := c.perms.Reset(ctx); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "notification permission reset for %s\n", c.cfg.App.Origin)
		return nil

	case "send-test":
		return c.sendTest(ctx)

	case "vapid-keys":
		keys, err := c.cfg.GenerateVAPIDKeys()
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "VAPID keys saved to %s\npublic key: %s\n", c.cfg.VAPID.KeysDir, keys.PublicKey)
		return nil

	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

type stateOutput struct {
	Role  models.UserType    `json:"role"`
	State subscription.State `json:"state"`
	models.PushSubscriptionState
}

func (c *cli) printState(s models.PushSubscriptionState) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(stateOutput{Role: c.role, State: c.mgr.State(), PushSubscriptionState: s})
}

// toastNotifier prints the short user-facing messages a page would toast.
type toastNotifier struct {
	out      io.Writer
	reported []error
}

func (n *toastNotifier) Info(msg string) {
	fmt.Fprintln(n.out, msg)
}

func (n *toastNotifier) Error(msg string, err error) {
	n.reported = append(n.reported, err)
	fmt.Fprintf(n.out, "%s: %v\n", msg, err)
}

func (n *toastNotifier) shown(err error) bool {
	for _, e := range n.reported {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
