package repair

import "context"

// Fake is a deterministic Repairer for tests: it returns a fixed
// response (or error) regardless of input, so pipeline tests never make
// a network call.
type Fake struct {
	Response Result
	Err      error
}

func (f *Fake) Repair(ctx context.Context, malformed string, targetSchema string) (Result, error) {
	if f.Err != nil {
		return Result{}, f.Err
	}
	return f.Response, nil
}
