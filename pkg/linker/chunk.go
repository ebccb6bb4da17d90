package linker

type ChunkKind uint8

const (
	ChunkHeader ChunkKind = iota
	ChunkSection
	ChunkSynthetic
)

// Chunker is one piece of the ELF output file: a header, the contents
// of a linked section, or a table the writer builds. Headers get no
// section index.
type Chunker interface {
	Kind() ChunkKind
	Header() *Shdr
	SectionName() string
	Index() int64
	SetIndex(idx int64)
	// Update fills in the header once every chunk has its index.
	Update(ctx *Context)
	// Write copies the chunk into ctx.Buf at its file offset.
	Write(ctx *Context)
}

// Chunk carries the bookkeeping every Chunker shares.
type Chunk struct {
	Name  string
	Shdr  Shdr
	Shndx int64
}

func NewChunk() Chunk {
	return Chunk{Shdr: Shdr{AddrAlign: 1}}
}

func (c *Chunk) Kind() ChunkKind     { return ChunkSynthetic }
func (c *Chunk) Header() *Shdr       { return &c.Shdr }
func (c *Chunk) SectionName() string { return c.Name }
func (c *Chunk) Index() int64        { return c.Shndx }
func (c *Chunk) SetIndex(idx int64)  { c.Shndx = idx }
func (c *Chunk) Update(ctx *Context) {}
func (c *Chunk) Write(ctx *Context)  {}
