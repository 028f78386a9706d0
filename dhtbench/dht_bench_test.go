// Package dhtbench benchmarks Store/Get throughput and hit rate across a
// simulated cluster of kadroute nodes wired together with an in-process
// transport.Loopback network, so the numbers measure the routing and
// lookup core rather than socket overhead.
package dhtbench

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/kadroute/kadroute/configuration"
	"github.com/kadroute/kadroute/internal/kadid"
	"github.com/kadroute/kadroute/internal/router"
	"github.com/kadroute/kadroute/internal/routing"
	"github.com/kadroute/kadroute/internal/storage"
	"github.com/kadroute/kadroute/internal/transport"
)

var (
	flagNumNodes        = flag.Int("bench.nodes", 32, "number of DHT nodes to launch")
	flagBootstrapDegree = flag.Int("bench.bootstrap", 3, "bootstrap degree per node (random peers chosen from already-started nodes)")
	flagValueBytes      = flag.Int("bench.valbytes", 64, "value size in bytes for Store")
	flagSeed            = flag.Int64("bench.seed", 1, "PRNG seed for reproducibility")
	flagOpTimeoutMS     = flag.Int("bench.timeout_ms", 1000, "per-operation context timeout in ms (Store/Get)")
)

// benchNode bundles a Router with the value-store side of RPC handling, so
// the harness can Store/Get through the same path a real kadctl node would.
type benchNode struct {
	self  routing.Contact
	r     *router.Router
	store routing.Adapter
	cfg   configuration.Config
}

func newBenchNode(net *transport.LoopbackNetwork, id kadid.ID, addr string, cfg configuration.Config) *benchNode {
	self := routing.Contact{NodeID: id, Address: addr}
	tp := net.NewTransport(self)
	store := storage.NewMemory()
	rt := routing.New(id, cfg.KBucketK, cfg.IDBits, store)
	r := router.New(rt, tp, nil, cfg)

	bn := &benchNode{self: self, r: r, store: store, cfg: cfg}
	tp.SetHandler(bn.handle)
	return bn
}

func (n *benchNode) handle(ctx context.Context, msg transport.Message) transport.Message {
	switch msg.Type {
	case transport.Ping:
		return transport.Message{Type: transport.Ping, From: n.self}
	case transport.FindNode:
		target, err := kadid.ParseID(msg.Key)
		if err != nil {
			return transport.Message{Type: transport.FindNode, From: n.self}
		}
		contacts, _ := n.r.Table().GetNearestContacts(ctx, target, n.cfg.KBucketK, n.self.NodeID)
		return transport.Message{Type: transport.FindNode, From: n.self, Nodes: contacts}
	case transport.FindValue:
		if raw, err := n.store.Get(ctx, valueKey(msg.Key)); err == nil {
			var item transport.Item
			if cbor.Unmarshal(raw, &item) == nil {
				return transport.Message{Type: transport.FindValue, From: n.self, Found: true, Item: &item}
			}
		}
		hashed := kadid.CreateID([]byte(msg.Key))
		contacts, _ := n.r.Table().GetNearestContacts(ctx, hashed, n.cfg.KBucketK, n.self.NodeID)
		return transport.Message{Type: transport.FindValue, From: n.self, Found: false, Nodes: contacts}
	case transport.Store:
		if msg.Item != nil {
			raw, err := cbor.Marshal(*msg.Item)
			if err == nil {
				_ = n.store.Put(ctx, valueKey(msg.Key), raw)
			}
		}
		return transport.Message{Type: transport.Store, From: n.self}
	default:
		return transport.Message{From: n.self}
	}
}

func valueKey(key string) []byte { return []byte("value-" + key) }

// storeValue runs a NODE lookup to find the closest peers to key, then
// replicates to up to cfg.Replicas of them, mirroring what kadctl's put
// subcommand does against a real cluster.
func (n *benchNode) storeValue(ctx context.Context, key string, val []byte) error {
	res, err := n.r.Lookup(ctx, router.NODE, key)
	if err != nil {
		return err
	}
	if len(res.Contacts) == 0 {
		return fmt.Errorf("no contacts to store on")
	}
	item := transport.Item{Key: key, Value: val, Publisher: n.self.NodeID, Timestamp: time.Now()}
	replicas := n.cfg.Replicas
	if replicas > len(res.Contacts) {
		replicas = len(res.Contacts)
	}
	var lastErr error
	stored := 0
	for _, c := range res.Contacts[:replicas] {
		msg := transport.Message{Type: transport.Store, Key: key, Item: &item}
		if _, err := n.r.Transport().Send(ctx, c, msg); err != nil {
			lastErr = err
			continue
		}
		stored++
	}
	if stored == 0 {
		return fmt.Errorf("store failed on every replica: %w", lastErr)
	}
	return nil
}

func (n *benchNode) getValue(ctx context.Context, key string) ([]byte, error) {
	res, err := n.r.Lookup(ctx, router.VALUE, key)
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

func BenchmarkDHT_StoreGet(b *testing.B) {
	r := rand.New(rand.NewSource(*flagSeed))
	ctx := b.Context()
	cfg := configuration.Default()
	cfg.RPCTimeout = time.Duration(*flagOpTimeoutMS) * time.Millisecond

	net := transport.NewLoopbackNetwork()
	nodes := make([]*benchNode, *flagNumNodes)
	for i := 0; i < *flagNumNodes; i++ {
		addr := fmt.Sprintf("bench-node-%d", i)
		nodes[i] = newBenchNode(net, kadid.RandomID(), addr, cfg)
	}

	for i := 0; i < *flagNumNodes; i++ {
		peerCount := min(*flagBootstrapDegree, i)
		if peerCount == 0 {
			continue
		}
		for _, idx := range uniqueRandomInts(r, peerCount, 0, i) {
			_ = nodes[i].r.UpdateContact(ctx, nodes[idx].self)
		}
	}

	var storeErrors, getAttempts, getErrors, hits int64
	var kv sync.Map

	timeout := time.Duration(*flagOpTimeoutMS) * time.Millisecond
	valBuf := make([]byte, *flagValueBytes)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		gr := rand.New(rand.NewSource(r.Int63()))
		for pb.Next() {
			key := randKey(gr)
			val := randBytes(gr, capOr(*flagValueBytes, 1), valBuf)

			storeIdx := gr.Intn(*flagNumNodes)
			getIdx := gr.Intn(*flagNumNodes)

			sctx, scancel := context.WithTimeout(ctx, timeout)
			err := nodes[storeIdx].storeValue(sctx, key, val)
			scancel()
			if err != nil {
				atomic.AddInt64(&storeErrors, 1)
				continue
			}
			kv.Store(key, val)

			atomic.AddInt64(&getAttempts, 1)
			gctx, gcancel := context.WithTimeout(ctx, timeout)
			got, err := nodes[getIdx].getValue(gctx, key)
			gcancel()
			if err != nil {
				atomic.AddInt64(&getErrors, 1)
				continue
			}

			if expAny, ok := kv.Load(key); ok {
				if bytesEqual(expAny.([]byte), got) {
					atomic.AddInt64(&hits, 1)
				}
			}
		}
	})
	b.StopTimer()

	totalGets := atomic.LoadInt64(&getAttempts)
	hitRate := float64(atomic.LoadInt64(&hits)) / float64(max64(1, totalGets))
	errRate := float64(atomic.LoadInt64(&storeErrors)+atomic.LoadInt64(&getErrors)) / float64(max64(1, totalGets))

	b.ReportMetric(hitRate, "hit_rate")
	b.ReportMetric(errRate, "err_rate")
	b.ReportMetric(float64(totalGets), "gets")
}

func uniqueRandomInts(r *rand.Rand, n, minIncl, maxExcl int) []int {
	if n <= 0 {
		return nil
	}
	if maxExcl-minIncl < n {
		all := make([]int, 0, maxExcl-minIncl)
		for i := minIncl; i < maxExcl; i++ {
			all = append(all, i)
		}
		r.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
		return all[:n]
	}
	seen := make(map[int]struct{}, n)
	out := make([]int, 0, n)
	for len(out) < n {
		x := minIncl + r.Intn(maxExcl-minIncl)
		if _, ok := seen[x]; ok {
			continue
		}
		seen[x] = struct{}{}
		out = append(out, x)
	}
	return out
}

func randBytes(r *rand.Rand, n int, scratch []byte) []byte {
	if n <= 0 {
		return nil
	}
	if cap(scratch) < n {
		scratch = make([]byte, n)
	}
	b := scratch[:n]
	for i := range n {
		b[i] = byte(r.Intn(256))
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

func randKey(r *rand.Rand) string {
	const kb = 16
	buf := make([]byte, kb)
	for i := range buf {
		buf[i] = byte(r.Intn(256))
	}
	return fmt.Sprintf("%x", buf)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func capOr(v, floor int) int {
	if v < floor {
		return floor
	}
	return v
}
