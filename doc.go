// Package reforge is a client SDK for a remote config/feature-flag
// control plane. A Client bootstraps a local snapshot from a checkpoint
// endpoint, then keeps it current by consuming a server-sent-event
// stream with a watchdog-guarded reconnect loop, an optional interval
// poll, and an optional two-tier cache (on-disk plus a shared Redis
// tier) for fast, network-independent restarts.
//
// Construction is via NewOptions and New:
//
//	opts, err := reforge.NewOptions(reforge.WithSDKKey(sdkKey))
//	client, err := reforge.New(opts)
//	defer client.Close()
//
//	client.WaitForReady(ctx)
//	entry, status := client.Get("my-flag")
//
// The config wire format itself — how a ConfigEntry's rows resolve to a
// concrete value for a given context — is intentionally out of scope;
// this module owns only fetching, merging, and caching the envelope.
package reforge
