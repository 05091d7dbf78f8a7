package wallet

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Approval describes a request that needs the account holder's consent.
type Approval struct {
	Method  string
	Account string
	ChainID string
	Detail  string
}

// Approver decides wallet prompts. Returning false rejects the request
// with code 4001.
type Approver interface {
	Approve(ctx context.Context, a Approval) (bool, error)
}

// AutoApprove accepts every request.
type AutoApprove struct{}

// Approve implements Approver.
func (AutoApprove) Approve(context.Context, Approval) (bool, error) { return true, nil }

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, a Approval) (bool, error)

// Approve implements Approver.
func (f ApproverFunc) Approve(ctx context.Context, a Approval) (bool, error) { return f(ctx, a) }

// PromptApprover asks on a line-oriented terminal.
type PromptApprover struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

// NewPromptApprover returns an Approver reading answers from in.
func NewPromptApprover(in io.Reader, out io.Writer) *PromptApprover {
	return &PromptApprover{in: bufio.NewReader(in), out: out}
}

// Approve implements Approver.
func (p *PromptApprover) Approve(ctx context.Context, a Approval) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.out, "\n[wallet] %s\n  account: %s\n  chain:   %s\n", a.Method, a.Account, a.ChainID)
	if a.Detail != "" {
		fmt.Fprintf(p.out, "  %s\n", a.Detail)
	}
	fmt.Fprint(p.out, "approve? [y/N] ")

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := p.in.ReadString('\n')
		ch <- answer{line, err}
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case ans := <-ch:
		if ans.err != nil && ans.line == "" {
			return false, ans.err
		}
		switch strings.ToLower(strings.TrimSpace(ans.line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}
