package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/marcuoli/go-privscan/pkg/privscan"
	"github.com/marcuoli/go-privscan/pkg/privscan/output"
	"github.com/marcuoli/go-privscan/pkg/privscan/sweep"
	"github.com/projectdiscovery/gologger"
	"github.com/rs/xid"
)

// Runner contains the internal logic of the program
type Runner struct {
	options *Options
	scanner *privscan.Scanner
	writer  *output.Writer
	id      string
}

// NewRunner instance
func NewRunner(options *Options) (*Runner, error) {
	opts, err := options.ScanOptions()
	if err != nil {
		return nil, err
	}
	s, err := privscan.New(opts)
	if err != nil {
		return nil, err
	}

	r := &Runner{
		options: options,
		scanner: s,
		writer:  output.NewWriter(options.Output),
		id:      xid.New().String(),
	}
	s.OnBlock = r.onBlock
	s.OnWarning = func(format string, args ...interface{}) {
		gologger.Warning().Msgf(format, args...)
	}
	r.configureDebug()
	return r, nil
}

func (r *Runner) configureDebug() {
	switch {
	case r.options.Debug:
		privscan.SetDebugLevel(privscan.DebugVerbose)
	case r.options.Verbose:
		privscan.SetDebugLevel(privscan.DebugBasic)
	default:
		privscan.SetDebugLevel(privscan.DebugOff)
		return
	}
	privscan.SetDebugLogger(func(method privscan.DiscoveryMethod, format string, args ...interface{}) {
		gologger.Debug().Msgf("%s %s", privscan.MethodToPrefix(method), fmt.Sprintf(format, args...))
	})
}

// Run performs the scan and writes the result files. Nothing is written if
// the scan fails.
func (r *Runner) Run(ctx context.Context) error {
	r.logConfig()

	res, err := r.scanner.Run(ctx)
	if err != nil {
		return err
	}

	files, err := r.writer.Write(res)
	if err != nil {
		return err
	}
	for _, f := range files {
		gologger.Verbose().Msgf("Wrote %s", f)
	}

	gologger.Info().Msgf("Scan %s finished in %s: %s", r.id, res.Timing.Duration().Round(time.Millisecond), output.Summary(res))
	for _, rec := range res.Hosts {
		gologger.Silent().Msgf("%s,%s", rec.Addr, rec.Hostname)
	}
	return nil
}

func (r *Runner) logConfig() {
	opts := r.scanner.Options
	gologger.Info().Msgf("Scan ID: %s", r.id)
	gologger.Info().Msgf("Reverse DNS: %s", enabled(opts.ReverseDNS))
	gologger.Info().Msgf("Ping sweep: %s", enabled(opts.Ping))
	if opts.PortScan {
		gologger.Info().Msgf("Port scan: enabled %v", opts.Ports)
	} else {
		gologger.Info().Msgf("Port scan: disabled")
	}
	gologger.Info().Msgf("Subnets: %s", opts.Target)
	gologger.Info().Msgf("Exclusions file: %s", opts.ExcludeFile)
	gologger.Info().Msgf("Output directory: %s", r.writer.Dir)
}

func (r *Runner) onBlock(br sweep.BlockResult) {
	switch {
	case br.Excluded:
		gologger.Verbose().Msgf("[%d/%d] %s excluded", br.Index+1, br.Total, br.Block)
	case br.Found > 0:
		gologger.Info().Msgf("[%d/%d] %s: %d hosts", br.Index+1, br.Total, br.Block, br.Found)
	}
}

func enabled(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}
