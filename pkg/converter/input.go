package converter

// ReadInputFile loads the library named on the command line and fills in
// the default output path.
func ReadInputFile(ctx *Context) error {
	file, err := NewFile(ctx.Arg.Input)
	if err != nil {
		return err
	}

	switch ft := GetFileType(file.Contents); ft {
	case FileTypeDso:
	default:
		return formatError(ErrNotRecognized, "", "%s: %s, expected a shared library", file.Name, FileTypeString(ft))
	}

	ctx.File = file
	if ctx.Arg.Output == "" {
		ctx.Arg.Output = DefaultOutputPath(file.Name)
	}
	return nil
}
