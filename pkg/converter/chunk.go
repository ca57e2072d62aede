package converter

const (
	ChunkKindHeader = iota
	ChunkKindOutputSection
	ChunkKindSynthetic
)

// Chunker is one contiguous piece of the output object. Headers occupy
// file space but get no section index.
type Chunker interface {
	Kind() int
	GetShdr() *Shdr
	GetName() string
	GetShndx() int64
	SetShndx(a int64)
	// UpdateShdr recomputes size and links. It may run several times.
	UpdateShdr(ctx *Context)
	CopyBuf(ctx *Context)
}

type Chunk struct {
	Name  string
	Shdr  Shdr
	Shndx int64
}

func NewChunk(name string, typ uint32, flags uint64, align uint64) Chunk {
	return Chunk{
		Name: name,
		Shdr: Shdr{Type: typ, Flags: flags, AddrAlign: align},
	}
}

func (c *Chunk) Kind() int {
	return ChunkKindSynthetic
}

func (c *Chunk) GetShdr() *Shdr {
	return &c.Shdr
}

func (c *Chunk) GetName() string {
	return c.Name
}

func (c *Chunk) GetShndx() int64 {
	return c.Shndx
}

func (c *Chunk) SetShndx(a int64) {
	c.Shndx = a
}

func (c *Chunk) UpdateShdr(ctx *Context) {}

func (c *Chunk) CopyBuf(ctx *Context) {}

// sectionIndex is the st_shndx of a chunk, SHN_UNDEF when it was dropped.
func sectionIndex(c Chunker) uint16 {
	if c == nil || c.GetShndx() <= 0 {
		return 0
	}
	return uint16(c.GetShndx())
}
