package ox

import "github.com/juju/loggo"

// loggers bundles the named per-stage loggers an OXProject owns. Each
// project gets its own set (rather than reaching for loggo's global
// default context) so multiple projects can run in one process — e.g. a
// language server holding several open workspaces — without one
// project's -verbose setting affecting another's.
//
// Grounded on the teacher's declared (if unused-in-copy) dependency on
// github.com/juju/loggo (_examples/flosch-pongo2/go.mod), wired here per
// SPEC_FULL.md §A ambient logging.
type loggers struct {
	context  *loggo.Context
	loader   loggo.Logger
	expander loggo.Logger
	dataSrc  loggo.Logger
	macro    loggo.Logger
	project  loggo.Logger
}

func newLoggers(verbose bool) *loggers {
	ctx := loggo.NewContext(loggo.WARNING)
	level := loggo.INFO
	if verbose {
		level = loggo.DEBUG
	}
	l := &loggers{
		context:  ctx,
		loader:   ctx.GetLogger("ox.loader"),
		expander: ctx.GetLogger("ox.expander"),
		dataSrc:  ctx.GetLogger("ox.datasource"),
		macro:    ctx.GetLogger("ox.macro"),
		project:  ctx.GetLogger("ox.project"),
	}
	for _, name := range []string{"ox.loader", "ox.expander", "ox.datasource", "ox.macro", "ox.project"} {
		ctx.GetLogger(name).SetLogLevel(level)
	}
	return l
}
