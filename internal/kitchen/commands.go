package kitchen

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/example/cafe-orders/internal/domain/order"
	"go.uber.org/zap"
)

// TriggerManual marks refreshes requested from the console.
const TriggerManual = "manual"

// StatusClient is the part of the order API the console drives.
type StatusClient interface {
	ChangeStatus(ctx context.Context, id int64, to order.Status) (*order.Order, error)
	RequestRefresh(ctx context.Context) error
}

var commandTargets = map[string]order.Status{
	"take":   order.StatusPreparing,
	"start":  order.StatusPreparing,
	"ready":  order.StatusReady,
	"serve":  order.StatusServed,
	"cancel": order.StatusCancelled,
}

// nextStatus is the forward step taken by the "next" command.
var nextStatus = map[order.Status]order.Status{
	order.StatusPending:   order.StatusPreparing,
	order.StatusPreparing: order.StatusReady,
	order.StatusReady:     order.StatusServed,
}

const consoleHelp = `commands:
  take|start <n>   move order n to preparing
  ready <n>        mark order n ready
  serve <n>        mark order n served
  cancel <n>       cancel order n
  next <n>         advance order n one step
  refresh          ask every display to reload
  help             show this list
<n> is an order number as shown on the ticket: 12, 0012 or CMD-0012.`

// Console reads line commands from the kitchen operator and turns them into
// status changes against the API. Results are applied to the board right
// away so the next frame shows them without waiting for the push channel.
type Console struct {
	client StatusClient
	board  *Board
	poller *Poller
	out    io.Writer
	logger *zap.Logger
}

func NewConsole(client StatusClient, board *Board, poller *Poller, out io.Writer, logger *zap.Logger) *Console {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Console{
		client: client,
		board:  board,
		poller: poller,
		out:    out,
		logger: logger.Named("console"),
	}
}

// Run executes commands from in until EOF or ctx is cancelled. The reader is
// scanned on its own goroutine, which stays blocked on a terminal read after
// cancellation until the process exits.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			c.logger.Warn("console input failed", zap.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			c.Execute(ctx, line)
		}
	}
}

// Execute runs one command line and writes its outcome.
func (c *Console) Execute(ctx context.Context, line string) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "help", "?":
		c.println(consoleHelp)
		return
	case "refresh":
		c.refresh(ctx)
		return
	}

	to, known := commandTargets[cmd]
	if !known && cmd != "next" {
		c.printf("unknown command %q, try help", cmd)
		return
	}
	if len(args) != 1 {
		c.printf("usage: %s <order number>", cmd)
		return
	}

	id, number, ok := c.resolve(args[0])
	if !ok {
		c.printf("order %s is not on the board", strings.ToUpper(args[0]))
		return
	}
	if cmd == "next" {
		cur, found := c.board.Get(id)
		if !found {
			c.printf("order %s is not on the board", number)
			return
		}
		if to, known = nextStatus[cur.Status]; !known {
			c.printf("%s is %s, nothing follows", number, cur.Status)
			return
		}
	}
	c.changeStatus(ctx, id, number, to)
}

func (c *Console) changeStatus(ctx context.Context, id int64, number string, to order.Status) {
	o, err := c.client.ChangeStatus(ctx, id, to)
	if o != nil {
		c.board.Apply(o)
	}

	switch {
	case err == nil:
		c.logger.Info("status changed", zap.String("number", number), zap.String("to", string(to)))
		c.printf("%s is now %s", number, o.Status)
	case errors.Is(err, order.ErrInvalidTransition) && o != nil:
		c.printf("%s is %s and cannot become %s", number, o.Status, to)
	case errors.Is(err, order.ErrConflictingUpdate) && o != nil:
		c.printf("%s was changed elsewhere, it is now %s", number, o.Status)
	case errors.Is(err, order.ErrOrderNotFound):
		c.printf("%s no longer exists", number)
		c.trigger()
	default:
		c.logger.Warn("status change failed",
			zap.String("number", number),
			zap.String("to", string(to)),
			zap.Error(err))
		c.printf("could not update %s: %v", number, err)
	}
}

func (c *Console) refresh(ctx context.Context) {
	c.trigger()
	if err := c.client.RequestRefresh(ctx); err != nil {
		c.logger.Warn("refresh request failed", zap.Error(err))
		c.printf("refresh request failed: %v", err)
		return
	}
	c.println("refresh requested")
}

func (c *Console) trigger() {
	if c.poller != nil {
		c.poller.Trigger(TriggerManual)
	}
}

// resolve finds the board entry whose number matches arg. Bare digits are
// read as a daily sequence.
func (c *Console) resolve(arg string) (int64, string, bool) {
	want := strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(arg), "#"))
	if seq, err := strconv.Atoi(want); err == nil && seq > 0 {
		want = order.FormatNumber(seq)
	} else if !strings.HasPrefix(want, order.NumberPrefix) {
		want = order.NumberPrefix + want
	}

	for _, o := range c.board.Snapshot() {
		if o.Number == want {
			return o.ID, o.Number, true
		}
	}
	return 0, want, false
}

func (c *Console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format+"\n", args...)
}

func (c *Console) println(s string) {
	fmt.Fprintln(c.out, s)
}
