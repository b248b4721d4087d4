// Command paycore runs one payments operation against a local node store.
//
//	paycore -config config.yaml pay -from 0x.. -to 0x.. -amount 1.5 -memo "invoice 7"
//	paycore -config config.yaml escrow-create -payer 0x.. -provider 0x.. -amount 100 -job job-1 -deadline 1756500000
//	paycore -config config.yaml history -limit 20
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mintclaw/paycore/internal/amount"
	"github.com/mintclaw/paycore/internal/config"
	"github.com/mintclaw/paycore/internal/escrow"
	"github.com/mintclaw/paycore/internal/ident"
	"github.com/mintclaw/paycore/internal/protocol"
	"github.com/mintclaw/paycore/internal/store"
	"github.com/mintclaw/paycore/pkg/db/pebble"
	"github.com/mintclaw/paycore/pkg/log"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the node configuration")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	if err := run(*configPath, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: paycore [-config path] <command> [flags]

commands:
  balance         -addr
  allowance       -owner
  approve         -owner -amount
  pay             -from -to -amount [-memo]
  escrow-create   -payer -provider -amount -job -deadline
  escrow-release  -caller -id
  escrow-claim    -caller -id
  escrow-refund   -caller -id
  escrow-cancel   -caller -id
  escrow-dispute  -caller -id
  escrow-get      -id
  stream-start    -payer -recipient -rate -duration
  stream-withdraw -caller -id
  stream-stop     -caller -id
  stream-get      -id
  history         [-limit]

Amounts are in display units with up to 6 decimal places.
`)
}

func run(configPath, command string, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	level, err := log.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log.Init(log.Options{LogLevel: level, Type: log.ConsoleLogger})

	policy, err := cfg.FeePolicy()
	if err != nil {
		return err
	}
	kv, err := pebble.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store at %s: %w", cfg.DataDir, err)
	}
	st := store.New(kv)
	defer st.Close()

	p, err := protocol.New(policy, protocol.WithStore(st))
	if err != nil {
		return err
	}
	if err := mintGenesis(p, cfg); err != nil {
		return err
	}
	return dispatch(p, command, args)
}

// mintGenesis funds the configured grants exactly once, on the first run
// against an empty store.
func mintGenesis(p *protocol.Protocol, cfg config.Config) error {
	if len(p.History(1)) > 0 {
		return nil
	}
	grants, err := cfg.GenesisGrants()
	if err != nil {
		return err
	}
	for _, g := range grants {
		if err := p.Mint(g.Address, g.Amount); err != nil {
			return fmt.Errorf("genesis mint %s: %w", g.Address, err)
		}
	}
	return nil
}

func dispatch(p *protocol.Protocol, command string, args []string) error {
	switch command {
	case "balance":
		return cmdBalance(p, args)
	case "allowance":
		return cmdAllowance(p, args)
	case "approve":
		return cmdApprove(p, args)
	case "pay":
		return cmdPay(p, args)
	case "escrow-create":
		return cmdEscrowCreate(p, args)
	case "escrow-release":
		return cmdEscrowAct(p, args, p.ReleaseEscrow)
	case "escrow-claim":
		return cmdEscrowAct(p, args, p.ClaimEscrow)
	case "escrow-refund":
		return cmdEscrowAct(p, args, p.RefundEscrow)
	case "escrow-cancel":
		return cmdEscrowAct(p, args, p.CancelEscrow)
	case "escrow-dispute":
		return cmdEscrowAct(p, args, p.DisputeEscrow)
	case "escrow-get":
		return cmdEscrowGet(p, args)
	case "stream-start":
		return cmdStreamStart(p, args)
	case "stream-withdraw":
		return cmdStreamWithdraw(p, args)
	case "stream-stop":
		return cmdStreamStop(p, args)
	case "stream-get":
		return cmdStreamGet(p, args)
	case "history":
		return cmdHistory(p, args)
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func cmdBalance(p *protocol.Protocol, args []string) error {
	fs := flag.NewFlagSet("balance", flag.ExitOnError)
	addr := fs.String("addr", "", "account address")
	fs.Parse(args)

	a, err := ident.ParseAddress(*addr)
	if err != nil {
		return err
	}
	fmt.Println(amount.Format(p.BalanceOf(a)))
	return nil
}

func cmdAllowance(p *protocol.Protocol, args []string) error {
	fs := flag.NewFlagSet("allowance", flag.ExitOnError)
	owner := fs.String("owner", "", "account address")
	fs.Parse(args)

	a, err := ident.ParseAddress(*owner)
	if err != nil {
		return err
	}
	fmt.Println(amount.Format(p.Allowance(a)))
	return nil
}

func cmdApprove(p *protocol.Protocol, args []string) error {
	fs := flag.NewFlagSet("approve", flag.ExitOnError)
	owner := fs.String("owner", "", "account address")
	amt := fs.String("amount", "", "approval amount in display units")
	fs.Parse(args)

	a, err := ident.ParseAddress(*owner)
	if err != nil {
		return err
	}
	v, err := amount.Parse(*amt)
	if err != nil {
		return err
	}
	return p.Approve(a, v)
}

func cmdPay(p *protocol.Protocol, args []string) error {
	fs := flag.NewFlagSet("pay", flag.ExitOnError)
	from := fs.String("from", "", "payer address")
	to := fs.String("to", "", "recipient address")
	amt := fs.String("amount", "", "gross amount in display units")
	memo := fs.String("memo", "", "opaque payment memo")
	fs.Parse(args)

	f, err := ident.ParseAddress(*from)
	if err != nil {
		return err
	}
	t, err := ident.ParseAddress(*to)
	if err != nil {
		return err
	}
	v, err := amount.Parse(*amt)
	if err != nil {
		return err
	}
	return p.Pay(f, t, v, *memo)
}

func cmdEscrowCreate(p *protocol.Protocol, args []string) error {
	fs := flag.NewFlagSet("escrow-create", flag.ExitOnError)
	payer := fs.String("payer", "", "payer address")
	provider := fs.String("provider", "", "provider address")
	amt := fs.String("amount", "", "escrowed amount in display units")
	job := fs.String("job", "", "job identifier")
	deadline := fs.Uint64("deadline", 0, "claim deadline, UNIX seconds")
	fs.Parse(args)

	pa, err := ident.ParseAddress(*payer)
	if err != nil {
		return err
	}
	pr, err := ident.ParseAddress(*provider)
	if err != nil {
		return err
	}
	v, err := amount.Parse(*amt)
	if err != nil {
		return err
	}
	id, err := p.CreateEscrow(pa, pr, v, *job, *deadline)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func cmdEscrowAct(p *protocol.Protocol, args []string, act func(ident.Address, ident.ID) error) error {
	fs := flag.NewFlagSet("escrow-act", flag.ExitOnError)
	caller := fs.String("caller", "", "caller address")
	id := fs.String("id", "", "escrow identifier")
	fs.Parse(args)

	c, err := ident.ParseAddress(*caller)
	if err != nil {
		return err
	}
	eid, err := ident.ParseID(*id)
	if err != nil {
		return err
	}
	return act(c, eid)
}

func cmdEscrowGet(p *protocol.Protocol, args []string) error {
	fs := flag.NewFlagSet("escrow-get", flag.ExitOnError)
	id := fs.String("id", "", "escrow identifier")
	fs.Parse(args)

	eid, err := ident.ParseID(*id)
	if err != nil {
		return err
	}
	rec := p.GetEscrow(eid)
	if rec.State == escrow.StateNone {
		fmt.Println("state:", rec.State)
		return nil
	}
	fmt.Println("state:   ", rec.State)
	fmt.Println("payer:   ", rec.Payer)
	fmt.Println("provider:", rec.Provider)
	fmt.Println("amount:  ", amount.Format(rec.Amount))
	fmt.Println("job:     ", rec.JobID)
	fmt.Println("deadline:", rec.Deadline)
	return nil
}

func cmdStreamStart(p *protocol.Protocol, args []string) error {
	fs := flag.NewFlagSet("stream-start", flag.ExitOnError)
	payer := fs.String("payer", "", "payer address")
	recipient := fs.String("recipient", "", "recipient address")
	rate := fs.String("rate", "", "rate per second in display units")
	duration := fs.Uint64("duration", 0, "maximum duration in seconds")
	fs.Parse(args)

	pa, err := ident.ParseAddress(*payer)
	if err != nil {
		return err
	}
	re, err := ident.ParseAddress(*recipient)
	if err != nil {
		return err
	}
	r, err := amount.Parse(*rate)
	if err != nil {
		return err
	}
	id, err := p.StartStream(pa, re, r, *duration)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func cmdStreamWithdraw(p *protocol.Protocol, args []string) error {
	fs := flag.NewFlagSet("stream-withdraw", flag.ExitOnError)
	caller := fs.String("caller", "", "caller address")
	id := fs.String("id", "", "stream identifier")
	fs.Parse(args)

	c, err := ident.ParseAddress(*caller)
	if err != nil {
		return err
	}
	sid, err := ident.ParseID(*id)
	if err != nil {
		return err
	}
	got, err := p.WithdrawFromStream(c, sid)
	if err != nil {
		return err
	}
	fmt.Println("withdrawn:", amount.Format(got))
	return nil
}

func cmdStreamStop(p *protocol.Protocol, args []string) error {
	fs := flag.NewFlagSet("stream-stop", flag.ExitOnError)
	caller := fs.String("caller", "", "caller address")
	id := fs.String("id", "", "stream identifier")
	fs.Parse(args)

	c, err := ident.ParseAddress(*caller)
	if err != nil {
		return err
	}
	sid, err := ident.ParseID(*id)
	if err != nil {
		return err
	}
	settled, refund, err := p.StopStream(c, sid)
	if err != nil {
		return err
	}
	fmt.Println("settled:", amount.Format(settled))
	fmt.Println("refund: ", amount.Format(refund))
	return nil
}

func cmdStreamGet(p *protocol.Protocol, args []string) error {
	fs := flag.NewFlagSet("stream-get", flag.ExitOnError)
	id := fs.String("id", "", "stream identifier")
	fs.Parse(args)

	sid, err := ident.ParseID(*id)
	if err != nil {
		return err
	}
	rec, ok := p.GetStream(sid)
	if !ok {
		return fmt.Errorf("stream %s not found", sid)
	}
	fmt.Println("active:   ", rec.Active)
	fmt.Println("payer:    ", rec.Payer)
	fmt.Println("recipient:", rec.Recipient)
	fmt.Println("rate:     ", amount.Format(rec.RatePerSecond))
	fmt.Println("duration: ", rec.MaxDuration)
	fmt.Println("deposit:  ", amount.Format(rec.TotalDeposit()))
	fmt.Println("withdrawn:", amount.Format(rec.Withdrawn))
	if due, err := p.StreamBalance(sid); err == nil {
		fmt.Println("due:      ", amount.Format(due))
	}
	return nil
}

func cmdHistory(p *protocol.Protocol, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("limit", 0, "show only the most recent N events")
	fs.Parse(args)

	for _, e := range p.History(*limit) {
		line := fmt.Sprintf("%6d %-16s %s", e.Seq, e.Kind, e.From)
		if e.Amount != nil {
			line += " " + amount.Format(e.Amount)
		}
		if e.Memo != "" {
			line += fmt.Sprintf(" %q", e.Memo)
		}
		if e.ID != nil {
			line += " " + e.ID.String()
		}
		fmt.Println(line)
	}
	return nil
}
