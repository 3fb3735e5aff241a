package relay

import "context"

type originKey struct{}

func withOrigin(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, originKey{}, clientID)
}

// RelayedBy returns the ID of the client that received the event being
// dispatched on ctx, if the event came from a relay server.
func RelayedBy(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(originKey{}).(string)
	return id, ok
}
