// Admin is the configuration front-end for the notifier: it manages
// subscriptions, endpoints, and their links, browses the notification
// history, and can send a test notification through an endpoint. It
// shares the daemon's database and takes effect within one poll cycle.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/mandreko/reddit-notifier/internal/model"
	"github.com/mandreko/reddit-notifier/internal/notifier"
	"github.com/mandreko/reddit-notifier/internal/storage"
)

func main() {
	dbPath := flag.String("db", envOrDefault("DATABASE_PATH", "./data/notifier.db"), "path to sqlite database")
	limit := flag.Int64("limit", 20, "history page size")
	offset := flag.Int64("offset", 0, "history page offset")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	// CLI runs are one-shot; discard store-level logs.
	store, err := storage.NewSQLite(*dbPath, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	if err := run(ctx, store, args, *limit, *offset); err != nil {
		log.Fatalf("%s: %v", args[0], err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: admin [-db path] <command> [args]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  subs                                List subscriptions")
	fmt.Fprintln(os.Stderr, "  sub-add <subreddit>                 Add a subscription")
	fmt.Fprintln(os.Stderr, "  sub-del <id>                        Delete a subscription and its links")
	fmt.Fprintln(os.Stderr, "  sub-endpoints <id>                  List endpoints linked to a subscription")
	fmt.Fprintln(os.Stderr, "  endpoints                           List endpoints")
	fmt.Fprintln(os.Stderr, "  endpoint-add <kind> <config> [note] Add an endpoint (kind: discord|pushover)")
	fmt.Fprintln(os.Stderr, "  endpoint-set <id> <config> [note]   Replace an endpoint's config")
	fmt.Fprintln(os.Stderr, "  endpoint-del <id>                   Delete an endpoint and its links")
	fmt.Fprintln(os.Stderr, "  endpoint-toggle <id>                Toggle an endpoint's active flag")
	fmt.Fprintln(os.Stderr, "  link <sub-id> <endpoint-id>         Link a subscription to an endpoint")
	fmt.Fprintln(os.Stderr, "  unlink <sub-id> <endpoint-id>       Remove a link")
	fmt.Fprintln(os.Stderr, "  history [subreddit]                 List notified posts (-limit, -offset)")
	fmt.Fprintln(os.Stderr, "  history-del <id>                    Delete a notified-post record")
	fmt.Fprintln(os.Stderr, "  prune <days>                        Delete records older than <days> days")
	fmt.Fprintln(os.Stderr, "  test <endpoint-id>                  Send a test notification")
}

func run(ctx context.Context, store storage.Storage, args []string, limit, offset int64) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "subs":
		return listSubs(ctx, store)
	case "sub-add":
		if len(rest) != 1 {
			return fmt.Errorf("usage: sub-add <subreddit>")
		}
		id, err := store.CreateSubscription(ctx, rest[0])
		if err != nil {
			return err
		}
		fmt.Printf("created subscription #%d for r/%s\n", id, rest[0])
		return nil
	case "sub-del":
		id, err := parseID(rest, "sub-del <id>")
		if err != nil {
			return err
		}
		return store.DeleteSubscription(ctx, id)
	case "sub-endpoints":
		id, err := parseID(rest, "sub-endpoints <id>")
		if err != nil {
			return err
		}
		eps, err := store.SubscriptionEndpoints(ctx, id)
		if err != nil {
			return err
		}
		printEndpoints(eps)
		return nil
	case "endpoints":
		eps, err := store.ListEndpoints(ctx)
		if err != nil {
			return err
		}
		printEndpoints(eps)
		return nil
	case "endpoint-add":
		if len(rest) < 2 || len(rest) > 3 {
			return fmt.Errorf("usage: endpoint-add <kind> <config-json> [note]")
		}
		kind, err := model.ParseEndpointKind(rest[0])
		if err != nil {
			return err
		}
		note := ""
		if len(rest) == 3 {
			note = rest[2]
		}
		if err := validateConfig(kind, rest[1]); err != nil {
			return err
		}
		id, err := store.CreateEndpoint(ctx, kind, rest[1], note)
		if err != nil {
			return err
		}
		fmt.Printf("created %s endpoint #%d\n", kind, id)
		return nil
	case "endpoint-set":
		if len(rest) < 2 || len(rest) > 3 {
			return fmt.Errorf("usage: endpoint-set <id> <config-json> [note]")
		}
		id, err := strconv.ParseInt(rest[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id %q", rest[0])
		}
		ep, err := store.GetEndpoint(ctx, id)
		if err != nil {
			return err
		}
		note := ep.Note
		if len(rest) == 3 {
			note = rest[2]
		}
		if err := validateConfig(ep.Kind, rest[1]); err != nil {
			return err
		}
		return store.UpdateEndpoint(ctx, id, rest[1], note)
	case "endpoint-del":
		id, err := parseID(rest, "endpoint-del <id>")
		if err != nil {
			return err
		}
		return store.DeleteEndpoint(ctx, id)
	case "endpoint-toggle":
		id, err := parseID(rest, "endpoint-toggle <id>")
		if err != nil {
			return err
		}
		active, err := store.ToggleEndpointActive(ctx, id)
		if err != nil {
			return err
		}
		fmt.Printf("endpoint #%d active=%v\n", id, active)
		return nil
	case "link", "unlink":
		if len(rest) != 2 {
			return fmt.Errorf("usage: %s <sub-id> <endpoint-id>", cmd)
		}
		subID, err := strconv.ParseInt(rest[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid subscription id %q", rest[0])
		}
		epID, err := strconv.ParseInt(rest[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid endpoint id %q", rest[1])
		}
		if cmd == "link" {
			return store.LinkSubscriptionEndpoint(ctx, subID, epID)
		}
		return store.UnlinkSubscriptionEndpoint(ctx, subID, epID)
	case "history":
		subreddit := ""
		if len(rest) == 1 {
			subreddit = rest[0]
		}
		posts, err := store.ListNotifiedPosts(ctx, subreddit, limit, offset)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSUBREDDIT\tPOST\tFIRST SEEN")
		for _, p := range posts {
			fmt.Fprintf(w, "%d\tr/%s\t%s\t%s\n", p.ID, p.Subreddit, p.PostID, p.FirstSeenAt.Format("2006-01-02 15:04 UTC"))
		}
		return w.Flush()
	case "history-del":
		id, err := parseID(rest, "history-del <id>")
		if err != nil {
			return err
		}
		return store.DeleteNotifiedPost(ctx, id)
	case "prune":
		if len(rest) != 1 {
			return fmt.Errorf("usage: prune <days>")
		}
		days, err := strconv.ParseInt(rest[0], 10, 64)
		if err != nil || days < 1 {
			return fmt.Errorf("invalid days %q", rest[0])
		}
		deleted, err := store.CleanupOldPosts(ctx, days)
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d record(s)\n", deleted)
		return nil
	case "test":
		id, err := parseID(rest, "test <endpoint-id>")
		if err != nil {
			return err
		}
		return sendTest(ctx, store, id)
	default:
		usage()
		return fmt.Errorf("unknown command")
	}
}

// sendTest delivers a test notification through a stored endpoint,
// exercising the same builder and sender the daemon uses.
func sendTest(ctx context.Context, store storage.Storage, id int64) error {
	ep, err := store.GetEndpoint(ctx, id)
	if err != nil {
		return err
	}
	builder := notifier.NewBuilder(&http.Client{Timeout: 30 * time.Second})
	n, err := builder.Build(*ep)
	if err != nil {
		return err
	}
	if err := n.Send(ctx, "test", "Test notification from reddit-notifier", "https://www.reddit.com"); err != nil {
		return err
	}
	fmt.Printf("test notification sent to %s endpoint #%d\n", n.Kind(), id)
	return nil
}

// validateConfig rejects config JSON the daemon would fail to build a
// notifier from, so bad configs are caught here instead of at dispatch.
func validateConfig(kind model.EndpointKind, configJSON string) error {
	_, err := notifier.NewBuilder(http.DefaultClient).Build(model.Endpoint{Kind: kind, ConfigJSON: configJSON})
	return err
}

func listSubs(ctx context.Context, store storage.Storage) error {
	subs, err := store.ListSubscriptions(ctx)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		fmt.Println("no subscriptions")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSUBREDDIT\tCREATED")
	for _, s := range subs {
		fmt.Fprintf(w, "%d\tr/%s\t%s\n", s.ID, s.Subreddit, s.CreatedAt.Format("2006-01-02 15:04 UTC"))
	}
	return w.Flush()
}

func printEndpoints(eps []model.Endpoint) {
	if len(eps) == 0 {
		fmt.Println("no endpoints")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tACTIVE\tNOTE")
	for _, ep := range eps {
		fmt.Fprintf(w, "%d\t%s\t%v\t%s\n", ep.ID, ep.Kind, ep.Active, ep.Note)
	}
	_ = w.Flush()
}

func parseID(args []string, usage string) (int64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("usage: %s", usage)
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", args[0])
	}
	return id, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
