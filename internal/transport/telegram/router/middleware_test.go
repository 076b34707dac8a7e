package router

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	kit "questbot/internal/transport"
	logx "questbot/pkg/logx"
)

func TestChainRunsOutermostFirst(t *testing.T) {
	t.Parallel()
	var order []string
	mark := func(tag string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *Request) error {
				order = append(order, tag)
				return next(ctx, req)
			}
		}
	}
	h := Chain(func(context.Context, *Request) error { order = append(order, "h"); return nil }, mark("a"), mark("b"))
	if err := h(context.Background(), &Request{}); err != nil {
		t.Fatalf("err=%v", err)
	}
	if strings.Join(order, ",") != "a,b,h" {
		t.Fatalf("order=%v", order)
	}
}

func TestPanicBecomesError(t *testing.T) {
	t.Parallel()
	h := Chain(func(context.Context, *Request) error { panic("kaboom") }, MWPanicRecover(logx.Nop()))
	err := h(context.Background(), &Request{})
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Fatalf("err=%v", err)
	}
}

func TestTimeoutBoundsHandler(t *testing.T) {
	t.Parallel()
	h := Chain(func(ctx context.Context, _ *Request) error {
		<-ctx.Done()
		return ctx.Err()
	}, MWTimeout(10*time.Millisecond))
	if err := h(context.Background(), &Request{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v", err)
	}
}

func TestReplyErrorHidesInternalErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"user", Userf("no task %d", 9), "❌ no task 9"},
		{"internal", errors.New("db locked"), "❌ Something went wrong (ref r1)"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ad := &fakeAdapter{}
			req := &Request{
				Update:  kit.Update{Kind: kit.UpdateMessage},
				Command: "status",
				ReqID:   "r1",
				Adapter: ad,
			}
			h := Chain(func(context.Context, *Request) error { return tt.err },
				MWRequestLog(logx.Nop()), MWReplyError())
			if err := h(context.Background(), req); err == nil {
				t.Fatalf("error swallowed")
			}
			got := ad.texts()
			if len(got) != 1 || got[0] != tt.want {
				t.Fatalf("replies=%q", got)
			}
		})
	}
}
