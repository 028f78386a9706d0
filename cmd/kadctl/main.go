// Command kadctl runs a single kadroute node and doubles as a client for
// interacting with one: subcommands either serve RPCs (run) or perform a
// one-shot lookup/store against the local node's own on-disk state
// (bootstrap, closest, get, put).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	daemon "github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"github.com/kadroute/kadroute/configuration"
	"github.com/kadroute/kadroute/internal/kadid"
	"github.com/kadroute/kadroute/internal/logging"
	"github.com/kadroute/kadroute/internal/router"
	"github.com/kadroute/kadroute/internal/routing"
	"github.com/kadroute/kadroute/internal/storage"
	"github.com/kadroute/kadroute/internal/transport"
)

const appName = "kadctl"

// openNode wires up the storage adapter, routing table, transport, and
// router a subcommand needs, reading identity and listen address from the
// per-user NodeConfig. The caller owns closing the returned adapter.
func openNode() (*configuration.NodeConfig, configuration.Config, *storage.LevelDB, *routing.RoutingTable, *transport.TCP, *router.Router, error) {
	nodeCfg, err := configuration.LoadNodeConfig(appName)
	if err != nil {
		return nil, configuration.Config{}, nil, nil, nil, nil, fmt.Errorf("load node config: %w", err)
	}
	cfg := configuration.Default()

	path := nodeCfg.StoragePath
	if path == "" {
		dir, err := os.UserCacheDir()
		if err != nil {
			return nil, configuration.Config{}, nil, nil, nil, nil, err
		}
		path = dir + "/" + appName + "/" + nodeCfg.NodeID.String()
	}
	store, err := storage.OpenLevelDB(path)
	if err != nil {
		return nil, configuration.Config{}, nil, nil, nil, nil, fmt.Errorf("open storage at %s: %w", path, err)
	}

	rt := routing.New(nodeCfg.NodeID, cfg.KBucketK, cfg.IDBits, store)
	selfAddr := nodeCfg.AdvertiseAddr
	if selfAddr == "" {
		selfAddr = nodeCfg.ListenAddr
	}
	tp := transport.NewTCP(routing.Contact{NodeID: nodeCfg.NodeID, Address: selfAddr}, cfg.RPCTimeout)
	r := router.New(rt, tp, nil, cfg)

	return nodeCfg, cfg, store, rt, tp, r, nil
}

func main() {
	root := &cobra.Command{
		Use:           appName,
		Short:         "kadctl operates a single kadroute DHT node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd(), newBootstrapCmd(), newClosestCmd(), newGetCmd(), newPutCmd(), newDumpCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	var listen string
	var logEvents bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run this node, serving RPCs and periodic maintenance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(listen, logEvents)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "override the listen address from the node config")
	cmd.Flags().BoolVar(&logEvents, "log-events", false, "print routing table Add/Drop/Shift events to stdout")
	return cmd
}

func runNode(listenOverride string, logEvents bool) error {
	nodeCfg, cfg, store, rt, tp, r, err := openNode()
	if err != nil {
		return err
	}
	defer store.Close()

	if listenOverride != "" {
		nodeCfg.ListenAddr = listenOverride
		tp = transport.NewTCP(routing.Contact{NodeID: nodeCfg.NodeID, Address: listenOverride}, cfg.RPCTimeout)
		r = router.New(rt, tp, nil, cfg)
	}
	self := routing.Contact{NodeID: nodeCfg.NodeID, Address: nodeCfg.ListenAddr}
	srv := newNodeServer(self, r, store, cfg)
	tp.SetHandler(srv.handle)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	serveErr := make(chan error, 1)
	go func() { serveErr <- tp.ListenAndServe(ctx) }()

	if len(nodeCfg.Bootstrap) > 0 {
		bootstrapCtx, bootstrapCancel := context.WithTimeout(ctx, cfg.RPCTimeout*time.Duration(len(nodeCfg.Bootstrap)+1))
		if err := bootstrapAgainst(bootstrapCtx, tp, r, self, nodeCfg.Bootstrap); err != nil {
			logging.Logf(logging.WithPrefix(ctx, logging.RouterPrefix), "bootstrap incomplete: %v", err)
		}
		bootstrapCancel()
	}

	go runMaintenance(ctx, r, cfg)
	if logEvents {
		go logRouterEvents(ctx, r)
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	fmt.Printf("kadctl node %s listening on %s\n", nodeCfg.NodeID, nodeCfg.ListenAddr)

	return <-serveErr
}

// logRouterEvents prints routing table Add/Drop/Shift events to stdout
// until ctx is canceled, for --log-events on the run subcommand.
func logRouterEvents(ctx context.Context, r *router.Router) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.Events():
			switch e := ev.(type) {
			case router.AddEvent:
				fmt.Printf("add   bucket=%d pos=%d %s %s\n", e.BucketIndex, e.Position, e.Contact.NodeID, e.Contact.Address)
			case router.DropEvent:
				fmt.Printf("drop  %s %s\n", e.Contact.NodeID, e.Contact.Address)
			case router.ShiftEvent:
				fmt.Printf("shift bucket=%d pos=%d %s %s\n", e.BucketIndex, e.Position, e.Contact.NodeID, e.Contact.Address)
			}
		}
	}
}

// runMaintenance drives the periodic bucket-refresh sweep on
// cfg.BucketRefresh, keeping stale buckets populated between lookups.
func runMaintenance(ctx context.Context, r *router.Router, cfg configuration.Config) {
	ticker := time.NewTicker(cfg.BucketRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.RefreshBucketsBeyondClosest(ctx); err != nil {
				logging.Logf(logging.WithPrefix(ctx, logging.Maintainance), "refresh sweep failed: %v", err)
			}
		}
	}
}

func newBootstrapCmd() *cobra.Command {
	var peers string
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Join the network via one or more seed peers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if peers == "" {
				return fmt.Errorf("--peers is required")
			}
			nodeCfg, _, store, _, tp, r, err := openNode()
			if err != nil {
				return err
			}
			defer store.Close()
			self := routing.Contact{NodeID: nodeCfg.NodeID, Address: nodeCfg.ListenAddr}
			return bootstrapAgainst(context.Background(), tp, r, self, strings.Split(peers, ","))
		},
	}
	cmd.Flags().StringVarP(&peers, "peers", "p", "", "comma-separated seed addresses (host:port)")
	return cmd
}

func newClosestCmd() *cobra.Command {
	var target string
	var k int
	cmd := &cobra.Command{
		Use:   "closest",
		Short: "List the K contacts closest to a target identifier",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, store, rt, _, _, err := openNode()
			if err != nil {
				return err
			}
			defer store.Close()

			targetID := rt.Self()
			if target != "" {
				targetID, err = kadid.ParseID(target)
				if err != nil {
					return fmt.Errorf("parse target: %w", err)
				}
			}
			if k <= 0 {
				k = cfg.KBucketK
			}
			contacts, err := rt.GetNearestContacts(context.Background(), targetID, k, kadid.ID{})
			if err != nil {
				return err
			}
			printContacts(contacts)
			return nil
		},
	}
	cmd.Flags().StringVarP(&target, "target", "t", "", "identifier to search near (defaults to self)")
	cmd.Flags().IntVarP(&k, "k", "k", 0, "number of contacts to return (defaults to K)")
	return cmd
}

func printContacts(contacts []routing.Contact) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tADDRESS\tLAST_SEEN")
	for _, c := range contacts {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", c.NodeID, c.Address, c.LastSeen.Format(time.RFC3339))
	}
	_ = tw.Flush()
}

func newGetCmd() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Look up a value by key via an iterative FIND_VALUE",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, store, _, _, r, err := openNode()
			if err != nil {
				return err
			}
			defer store.Close()

			res, err := r.Lookup(context.Background(), router.VALUE, key)
			if err != nil {
				return err
			}
			fmt.Println(string(res.Value))
			return nil
		},
	}
	cmd.Flags().StringVarP(&key, "key", "k", "", "key to fetch")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func newPutCmd() *cobra.Command {
	var key, value string
	cmd := &cobra.Command{
		Use:   "put",
		Short: "Publish a value to the Replicas closest peers",
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeCfg, cfg, store, _, _, r, err := openNode()
			if err != nil {
				return err
			}
			defer store.Close()

			res, err := r.Lookup(context.Background(), router.NODE, key)
			if err != nil {
				return err
			}
			item := &transport.Item{Key: key, Value: []byte(value), Publisher: nodeCfg.NodeID, Timestamp: time.Now()}
			return publishTo(r, res.Contacts, cfg, item)
		},
	}
	cmd.Flags().StringVarP(&key, "key", "k", "", "key to publish under")
	cmd.Flags().StringVarP(&value, "value", "v", "", "value to store")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

// newDumpCmd is the CLI inspection/GC-style tool the storage adapter's
// Iterate contract exists for: it walks the local node's on-disk records
// directly, without going through the routing table at all.
func newDumpCmd() *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "List keys stored under this node's adapter, optionally by prefix",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, store, _, _, _, err := openNode()
			if err != nil {
				return err
			}
			defer store.Close()

			cur, err := store.Iterate(context.Background(), []byte(prefix))
			if err != nil {
				return err
			}
			defer cur.Close()

			tw := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tBYTES")
			n := 0
			for cur.Next() {
				fmt.Fprintf(tw, "%s\t%d\n", cur.Key(), len(cur.Value()))
				n++
			}
			if err := cur.Err(); err != nil {
				return err
			}
			_ = tw.Flush()
			fmt.Printf("%d keys\n", n)
			return nil
		},
	}
	cmd.Flags().StringVarP(&prefix, "prefix", "p", "", "only list keys with this prefix, e.g. bucket-, contact-, value-")
	return cmd
}

func publishTo(r *router.Router, contacts []routing.Contact, cfg configuration.Config, item *transport.Item) error {
	n := cfg.Replicas
	if n > len(contacts) {
		n = len(contacts)
	}
	if n == 0 {
		return fmt.Errorf("no contacts known to publish to")
	}
	var lastErr error
	stored := 0
	for _, c := range contacts[:n] {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.RPCTimeout)
		_, err := r.Transport().Send(ctx, c, transport.Message{Type: transport.Store, Key: item.Key, Item: item})
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		stored++
	}
	if stored == 0 {
		return fmt.Errorf("publish failed on every replica: %w", lastErr)
	}
	fmt.Printf("stored on %d/%d replicas\n", stored, n)
	return nil
}
