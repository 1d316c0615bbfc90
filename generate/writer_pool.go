package generate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mongodb/grip"
	"github.com/pkg/errors"

	"github.com/evergreen-ci/mongo-task-generator/resmoke"
)

// DefaultWriterCount is the number of suite-file writers to run.
const DefaultWriterCount = 32

// writerMailboxSize bounds how many pending writes a single writer queues.
const writerMailboxSize = 100

// SuiteFilesMessage asks the writer pool to materialize the sub-suite files
// of one split suite.
type SuiteFilesMessage struct {
	// TaskName is the task the sub-suites belong to, used in error reports.
	TaskName string
	// OriginSuite is the suite the sub-suites were derived from.
	OriginSuite string
	// SubSuites are the sub-suites to write, including the catch-all.
	SubSuites []SubSuite
}

// writerMessage is either a write request or a flush barrier.
type writerMessage struct {
	suiteFiles *SuiteFilesMessage
	flush      chan error
}

// WriterPool writes generated sub-suite files concurrently. Writes are
// buffered per worker; failures surface when the pool is flushed.
type WriterPool struct {
	discovery resmoke.TestDiscovery
	targetDir string

	mu      sync.Mutex
	workers []chan writerMessage
	next    int
}

// NewWriterPool starts workerCount writers that place suite files in
// targetDir.
func NewWriterPool(ctx context.Context, discovery resmoke.TestDiscovery, targetDir string, workerCount int) *WriterPool {
	pool := &WriterPool{
		discovery: discovery,
		targetDir: targetDir,
	}
	for i := 0; i < workerCount; i++ {
		mailbox := make(chan writerMessage, writerMailboxSize)
		pool.workers = append(pool.workers, mailbox)
		go pool.runWorker(ctx, mailbox)
	}
	return pool
}

// WriteSuiteFiles queues the given sub-suite files for writing. Messages are
// distributed round-robin so one slow suite does not serialize the rest.
func (p *WriterPool) WriteSuiteFiles(ctx context.Context, message SuiteFilesMessage) error {
	p.mu.Lock()
	mailbox := p.workers[p.next]
	p.next = (p.next + 1) % len(p.workers)
	p.mu.Unlock()

	select {
	case mailbox <- writerMessage{suiteFiles: &message}:
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "queuing suite files for task '%s'", message.TaskName)
	}
}

// Flush waits for every queued write to finish and reports any failures that
// occurred since the pool started.
func (p *WriterPool) Flush(ctx context.Context) error {
	catcher := grip.NewBasicCatcher()
	for _, mailbox := range p.workers {
		reply := make(chan error, 1)
		select {
		case mailbox <- writerMessage{flush: reply}:
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "flushing suite file writers")
		}
		select {
		case err := <-reply:
			catcher.Add(err)
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "waiting for suite file writers")
		}
	}
	return catcher.Resolve()
}

// Close shuts the pool down. No writes may be queued after closing.
func (p *WriterPool) Close() {
	for _, mailbox := range p.workers {
		close(mailbox)
	}
}

// runWorker processes one worker's mailbox until it closes. Each worker keeps
// its own suite-config cache so repeated splits of the same suite only query
// discovery once per worker.
func (p *WriterPool) runWorker(ctx context.Context, mailbox chan writerMessage) {
	cache := map[string]*resmoke.SuiteConfig{}
	var failures []string

	for message := range mailbox {
		if message.flush != nil {
			if len(failures) > 0 {
				message.flush <- errors.New(formatFailures(failures))
			} else {
				message.flush <- nil
			}
			continue
		}
		if err := p.writeSuiteFiles(ctx, cache, message.suiteFiles); err != nil {
			failures = append(failures, fmt.Sprintf("ERROR: %s: %s", message.suiteFiles.TaskName, err))
		}
	}
}

// writeSuiteFiles materializes every sub-suite file of one split suite.
func (p *WriterPool) writeSuiteFiles(ctx context.Context, cache map[string]*resmoke.SuiteConfig, message *SuiteFilesMessage) error {
	origin, ok := cache[message.OriginSuite]
	if !ok {
		var err error
		origin, err = p.discovery.GetSuiteConfig(ctx, message.OriginSuite)
		if err != nil {
			return errors.Wrapf(err, "getting suite config for '%s'", message.OriginSuite)
		}
		cache[message.OriginSuite] = origin
	}

	var allTests []string
	for _, subSuite := range message.SubSuites {
		if subSuite.Index != nil {
			allTests = append(allTests, subSuite.TestList...)
		}
	}

	for _, subSuite := range message.SubSuites {
		var config *resmoke.SuiteConfig
		var err error
		if subSuite.Index != nil {
			config, err = origin.SubSuiteConfig(subSuite.TestList)
		} else {
			config, err = origin.MiscConfig(allTests)
		}
		if err != nil {
			return errors.Wrapf(err, "deriving config for sub-suite '%s'", subSuite.Name)
		}

		contents, err := config.Bytes()
		if err != nil {
			return errors.Wrapf(err, "serializing config for sub-suite '%s'", subSuite.Name)
		}
		path := filepath.Join(p.targetDir, subSuite.Name+".yml")
		if err := os.WriteFile(path, contents, 0644); err != nil {
			return errors.Wrapf(err, "writing suite file '%s'", path)
		}
	}
	return nil
}

// formatFailures joins accumulated failure lines for reporting.
func formatFailures(failures []string) string {
	out := failures[0]
	for _, failure := range failures[1:] {
		out += "\n" + failure
	}
	return out
}
