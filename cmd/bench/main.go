package bench

import (
	"fmt"
	"os"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/spf13/cobra"

	"github.com/fastlog-io/fastlog/engine"
	"github.com/fastlog-io/fastlog/utils"
	"github.com/fastlog-io/fastlog/utils/log"
	"github.com/fastlog-io/fastlog/utils/pool"
	"github.com/fastlog-io/fastlog/wire"
)

const (
	usage   = "bench"
	short   = "Run a logging throughput benchmark"
	long    = "This command drives N producer goroutines through the runtime and reports engine statistics"
	example = "fastlog bench --producers 4 --records 100000"
)

var (
	// Cmd is the bench command.
	Cmd = &cobra.Command{
		Use:     usage,
		Short:   short,
		Long:    long,
		Example: example,
		RunE:    executeBench,
	}

	configFilePath string
	numProducers   int
	numRecords     int
	payloadSize    int
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.Flags().StringVarP(&configFilePath, "config", "c", "", "path to a YAML runtime configuration file")
	Cmd.Flags().IntVarP(&numProducers, "producers", "p", 4, "number of producer goroutines")
	Cmd.Flags().IntVarP(&numRecords, "records", "n", 100000, "records per producer")
	Cmd.Flags().IntVarP(&payloadSize, "payload", "s", 64, "payload bytes per record")
}

// executeBench implements the bench command.
func executeBench(cmd *cobra.Command, _ []string) error {
	cfg := utils.NewDefaultConfig()
	if configFilePath != "" {
		data, err := os.ReadFile(configFilePath)
		if err != nil {
			return fmt.Errorf("failed to read configuration file: %w", err)
		}
		if cfg, err = utils.ParseConfig(data); err != nil {
			return err
		}
		log.Info("using %v for configuration", configFilePath)
	}
	cmd.SilenceUsage = true

	e, err := engine.New(cfg)
	if err != nil {
		return err
	}

	siteID := e.RegisterSite(wire.StaticLogInfo{
		Severity:     uint8(engine.Notice),
		Filename:     "bench.go",
		Line:         1,
		FormatString: "benchmark payload: %s",
	})

	payload := make([]byte, payloadSize)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}

	start := time.Now()

	jobs := make(chan int)
	workers := pool.NewPool(numProducers, func(seq int) {
		p := e.NewProducer()
		defer p.Close()
		for i := 0; i < numRecords; i++ {
			p.Log(engine.Notice, siteID, payload)
		}
	})
	go func() {
		for seq := 0; seq < numProducers; seq++ {
			jobs <- seq
		}
		close(jobs)
	}()
	workers.Work(jobs)
	workers.Wait()

	e.Sync()
	elapsed := time.Since(start)

	total := numProducers * numRecords
	staged := uint64(total * wire.RecordSize(siteID, payload))
	log.Info("staged %d records (%s) in %v", total, bytefmt.ByteSize(staged), elapsed)

	fmt.Println(e.GetStats())
	fmt.Println(e.GetHistograms())

	return e.Close()
}
