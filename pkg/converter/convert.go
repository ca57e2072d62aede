package converter

import (
	"fmt"

	"github.com/ksco/soda/pkg/utils"
)

type pass struct {
	name string
	run  func(ctx *Context) error
}

var passes = []pass{
	{"read", ReadLibrary},
	{"select", SelectSymbols},
	{"sections", CreateSyntheticSections},
	{"plan", PlanCode},
	{"layout", LayoutSections},
	{"symtab", BuildSymtab},
	{"relocate", ResolveRelocations},
	{"finalize", FinalizeLayout},
	{"write", CopyChunks},
}

// Convert builds the relocatable object for ctx.File in ctx.Buf. Nothing
// is written to disk.
func Convert(ctx *Context) error {
	for _, p := range passes {
		utils.Debugf("running pass %s", p.name)
		if err := p.run(ctx); err != nil {
			return fmt.Errorf("pass %s failed: %w", p.name, err)
		}
	}
	return nil
}

// WriteOutputs replaces the output object, and the archive when one was
// asked for, in a single step each.
func WriteOutputs(ctx *Context) error {
	if err := utils.WriteFile(ctx.Arg.Output, ctx.Buf, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", ctx.Arg.Output, err)
	}
	utils.Infof("wrote %s: %d exports, %d bytes", ctx.Arg.Output, len(ctx.Exports), len(ctx.Buf))

	if !ctx.Arg.Archive {
		return nil
	}
	path := ArchivePath(ctx.Arg.Output)
	buf, err := BuildArchive(ctx)
	if err != nil {
		return fmt.Errorf("archive %s: %w", path, err)
	}
	if err := utils.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	utils.Infof("wrote %s", path)
	return nil
}

func Run(arg ContextArg) (*Context, error) {
	ctx := NewContext(arg)
	if err := ReadInputFile(ctx); err != nil {
		return nil, err
	}
	if err := Convert(ctx); err != nil {
		return nil, err
	}
	if err := WriteOutputs(ctx); err != nil {
		return nil, err
	}
	return ctx, nil
}
