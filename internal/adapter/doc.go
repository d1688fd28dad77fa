// Package adapter defines the plug-in unit of odin-control and the registry
// that holds the loaded adapters.
//
// An adapter owns one parameter tree and answers requests against it. The
// server never calls an adapter directly: each registered adapter is wrapped
// in a Handle whose mutex serialises requests, periodic updates and cleanup
// for that adapter.
//
// # Lifecycle
//
// Adapter packages register a Factory for their kind in init. At startup
// Build walks the configured Specs in order, initialises each adapter and
// registers the ones that succeed. The registry is sealed once Build
// returns; nothing is added or removed while the server runs. At shutdown
// Registry.Cleanup runs in reverse order.
//
// # Writing an adapter
//
// Most adapters embed TreeAdapter, build a paramtree.Tree in Initialize and
// implement Updater if they refresh on a timer:
//
//	type Counter struct {
//		adapter.TreeAdapter
//		n int64
//	}
//
//	func (c *Counter) Initialize(_ context.Context, _ adapter.Options) error {
//		c.SetTree(paramtree.New(paramtree.Map(
//			paramtree.Field("count", paramtree.Bound(paramtree.Int,
//				func() (any, error) { return c.n, nil }, nil)),
//		)))
//		return nil
//	}
package adapter
