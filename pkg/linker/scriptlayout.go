package linker

import (
	"encoding/binary"
	"errors"
	"math/bits"
	"slices"
	"sort"

	"github.com/ksco/vlink/pkg/script"
	"github.com/ksco/vlink/pkg/utils"
)

// LoadScript parses a linker script and registers what symbol resolution
// needs before any address is known: symbols the script defines, program
// headers and search directories.
func LoadScript(ctx *Context, name, src string) (err error) {
	defer catch(&err)
	s, err := script.Parse(name, src)
	if err != nil {
		return err
	}
	pre := s.Prescan()
	ctx.Script, ctx.Prescan = s, pre

	ctx.ScriptObj = NewObjectUnit(name, UnitSynthetic)
	for _, n := range pre.Defines {
		sym := NewSymbol(n)
		sym.Type = SymAbs
		sym.Bind = BindGlobal
		sym.Flags |= SymScript
		ctx.ScriptObj.AddSymbol(sym)
	}
	ctx.AddUnit(ctx.ScriptObj)
	ctx.Arg.LibraryPaths = append(ctx.Arg.LibraryPaths, pre.SearchDirs...)

	env := &scriptEnv{ctx: ctx}
	for _, decl := range pre.Phdrs {
		typ, err := decl.Type.Eval(env)
		if err != nil {
			return err
		}
		seg := &Segment{Name: decl.Name, Type: uint32(typ), FileHdr: decl.FileHdr, Phdrs: decl.Phdrs}
		if decl.At != nil {
			at, err := decl.At.Eval(env)
			if err != nil {
				return err
			}
			seg.At, seg.HasAt = uint64(at), true
		}
		if decl.Flags != nil {
			flags, err := decl.Flags.Eval(env)
			if err != nil {
				return err
			}
			seg.Flags, seg.FlagsSet = uint32(flags), true
		}
		ctx.Segments = append(ctx.Segments, seg)
	}
	return nil
}

// scriptEnv answers the questions script expressions ask. A value is
// known once the thing it depends on has been placed.
type scriptEnv struct {
	ctx    *Context
	dot    uint64
	hasDot bool
	cur    *LinkedSection
}

func (e *scriptEnv) Dot() (script.Word, bool) {
	return script.Word(e.dot), e.hasDot
}

func (e *scriptEnv) symbolKnown(sym *Symbol) bool {
	switch {
	case sym == nil || !sym.IsDefined() || !sym.IsLinked():
		return false
	case sym.Flags&SymScript != 0 && sym.Flags&SymAssigned == 0:
		return false
	case sym.Flags&SymLinkerDefined != 0 && !e.ctx.linkerSymbolsSet:
		return false
	case sym.Type == SymReloc:
		ls := sym.LinkedSection()
		return ls != nil && ls.placed
	}
	return sym.Type == SymAbs
}

func (e *scriptEnv) Symbol(name string) (script.Word, bool) {
	sym := e.ctx.Globals.Lookup(name)
	if !e.symbolKnown(sym) {
		return 0, false
	}
	return script.Word(sym.Addr()), true
}

func (e *scriptEnv) Defined(name string) bool {
	sym := e.ctx.Globals.Lookup(name)
	if sym == nil || !sym.IsDefined() || !sym.IsLinked() {
		return false
	}
	return sym.Flags&SymScript == 0 || sym.Flags&SymAssigned != 0
}

func (e *scriptEnv) section(name string) *LinkedSection {
	for _, ls := range e.ctx.LinkedSections {
		if ls.Name == name && ls.placed {
			return ls
		}
	}
	return nil
}

func (e *scriptEnv) SectionAddr(name string) (script.Word, bool) {
	if ls := e.section(name); ls != nil {
		return script.Word(ls.Base), true
	}
	return 0, false
}

func (e *scriptEnv) SectionLoadAddr(name string) (script.Word, bool) {
	if ls := e.section(name); ls != nil && ls != e.cur {
		return script.Word(ls.CopyBase), true
	}
	return 0, false
}

func (e *scriptEnv) SectionSize(name string) (script.Word, bool) {
	if ls := e.section(name); ls != nil && ls != e.cur {
		return script.Word(ls.Size), true
	}
	return 0, false
}

func (e *scriptEnv) SizeofHeaders() script.Word {
	return script.Word(e.ctx.headerSize())
}

func (e *scriptEnv) Region(name string) (origin, length script.Word, ok bool) {
	r := e.ctx.Region(name)
	if r == nil {
		return 0, 0, false
	}
	return script.Word(r.Org), script.Word(r.Len), true
}

// deferredEval is a script expression whose value was not known where it
// appeared. It is evaluated again with the environment of that place.
type deferredEval struct {
	env    scriptEnv
	assign *script.Assignment
	data   *script.DataItem
	buf    []byte
	assert *script.AssertCommand
	err    error
}

func isUnknown(err error) bool {
	var e *script.EvalError
	return errors.As(err, &e) && e.Unknown
}

type scriptLayout struct {
	ctx *Context

	dot        uint64
	inSections bool
	cur        *LinkedSection

	region   *MemoryDescr
	lmaDelta uint64
	phdrs    []string
	kept     map[string]*Section
	last     *LinkedSection
}

func (l *scriptLayout) env() scriptEnv {
	return scriptEnv{ctx: l.ctx, dot: l.dot, hasDot: l.inSections, cur: l.cur}
}

func (l *scriptLayout) eval(x script.Expr) (uint64, error) {
	env := l.env()
	v, err := x.Eval(&env)
	return uint64(v), err
}

// ScriptLayout places sections following the SECTIONS command of the
// script. Input sections no block selects are appended behind the last
// block, joined the way the default layout would.
func ScriptLayout(ctx *Context) {
	l := &scriptLayout{ctx: ctx, kept: make(map[string]*Section)}

	for _, decl := range ctx.Prescan.Regions {
		origin, err := l.eval(decl.Origin)
		if err != nil {
			ctx.Diag.Error("MEMORY %s: %v", decl.Name, err)
			continue
		}
		length, err := l.eval(decl.Length)
		if err != nil {
			ctx.Diag.Error("MEMORY %s: %v", decl.Name, err)
			continue
		}
		ctx.Regions = append(ctx.Regions, NewMemoryDescr(decl.Name, decl.Attrs, origin, length))
	}

	for _, cmd := range ctx.Script.Commands {
		switch c := cmd.(type) {
		case *script.Assignment:
			l.assign(c)
		case *script.AssertCommand:
			l.assert(c)
		case *script.SectionsCommand:
			l.inSections = true
			for _, stmt := range c.Stmts {
				switch st := stmt.(type) {
				case *script.Assignment:
					l.assign(st)
				case *script.AssertCommand:
					l.assert(st)
				case *script.OutputSection:
					l.block(st)
				}
			}
			l.inSections = false
		}
	}

	l.placeOrphans()
	ctx.retryDeferred()

	if len(ctx.Prescan.Phdrs) == 0 && ctx.wantsSegments() {
		list := slices.Clone(ctx.LinkedSections)
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Base < list[j].Base
		})
		ctx.createDefaultSegments(list)
	}
	for _, seg := range ctx.Segments {
		seg.ComputeExtents()
	}
}

// assign evaluates a symbol or location counter assignment at the current
// position. Symbols assigned inside an output section are relative to it.
func (l *scriptLayout) assign(a *script.Assignment) {
	if a.Name == "." {
		l.moveDot(a)
		return
	}
	sym := l.ctx.scriptSymbol(a)
	if sym == nil {
		return
	}
	env := l.env()
	if err := l.ctx.assignSymbol(&env, a, sym); err != nil {
		if isUnknown(err) {
			l.ctx.deferred = append(l.ctx.deferred, &deferredEval{env: env, assign: a, err: err})
			return
		}
		l.ctx.Diag.Error("%v", err)
	}
}

// scriptSymbol returns the symbol an assignment defines, or nil for a
// PROVIDE nobody asked for.
func (ctx *Context) scriptSymbol(a *script.Assignment) *Symbol {
	if a.Provide {
		sym := ctx.Globals.Lookup(a.Name)
		if sym == nil || sym.Flags&SymProvided == 0 || sym.Obj != ctx.ScriptObj {
			return nil
		}
		return sym
	}
	return ctx.ScriptObj.Lookup(a.Name)
}

func applyAssignOp(a *script.Assignment, old, v script.Word) (script.Word, error) {
	switch a.Op {
	case "+=":
		return old + v, nil
	case "-=":
		return old - v, nil
	case "*=":
		return old * v, nil
	case "/=":
		if v == 0 {
			return 0, &script.EvalError{Pos: a.Pos, Msg: "division by zero"}
		}
		return old / v, nil
	case "<<=":
		return old << uint64(v), nil
	case ">>=":
		return script.Word(uint64(old) >> uint64(v)), nil
	case "&=":
		return old & v, nil
	case "|=":
		return old | v, nil
	}
	return v, nil
}

func (ctx *Context) assignSymbol(env *scriptEnv, a *script.Assignment, sym *Symbol) error {
	v, err := a.Value.Eval(env)
	if err == nil && a.Op != "=" {
		if !env.symbolKnown(sym) {
			return &script.EvalError{Pos: a.Pos, Msg: "'" + a.Name + "' used before assignment", Unknown: true}
		}
		v, err = applyAssignOp(a, script.Word(sym.Addr()), v)
	}
	if err != nil {
		if isUnknown(err) {
			return err
		}
		// A failed expression still defines the symbol, as 0.
		sym.SetAbsolute(0)
		sym.Flags |= SymAssigned
		return err
	}

	if env.cur != nil && env.hasDot {
		sym.SetOutputSection(env.cur)
		sym.Value = uint64(v) - env.cur.Base
	} else {
		sym.SetAbsolute(uint64(v))
	}
	sym.Flags |= SymAssigned
	return nil
}

func (l *scriptLayout) moveDot(a *script.Assignment) {
	if !l.inSections {
		l.ctx.Diag.Error("%s: '.' may only be assigned inside SECTIONS", a.Pos)
		return
	}
	v, err := l.eval(a.Value)
	if err != nil {
		l.ctx.Diag.Error("%v", err)
		return
	}
	if a.Op != "=" {
		w, err := applyAssignOp(a, script.Word(l.dot), script.Word(v))
		if err != nil {
			l.ctx.Diag.Error("%v", err)
			return
		}
		v = uint64(w)
	}
	if l.cur == nil {
		l.dot = v
		return
	}
	if v < l.dot {
		l.ctx.Diag.Error("%s: cannot move location counter backwards (from %#x to %#x) in %s",
			a.Pos, l.dot, v, l.cur.Name)
		return
	}
	l.dot = v
	l.cur.Grow(v - l.cur.Base)
}

func (l *scriptLayout) assert(a *script.AssertCommand) {
	env := l.env()
	if err := l.ctx.checkAssert(&env, a); err != nil {
		l.ctx.deferred = append(l.ctx.deferred, &deferredEval{env: env, assert: a, err: err})
	}
}

// checkAssert reports a failed assertion, or returns the error of a
// condition that cannot be evaluated yet.
func (ctx *Context) checkAssert(env *scriptEnv, a *script.AssertCommand) error {
	v, err := a.Cond.Eval(env)
	if err != nil {
		if isUnknown(err) {
			return err
		}
		ctx.Diag.Error("%v", err)
		return nil
	}
	if v == 0 {
		ctx.Diag.Error("%s: assertion failed: %s", a.Pos, a.Msg)
	}
	return nil
}

func (ctx *Context) putData(buf []byte, size int, v uint64) {
	order := ctx.byteOrder()
	switch size {
	case 1:
		buf[0] = uint8(v)
	case 2:
		order.PutUint16(buf, uint16(v))
	case 4:
		order.PutUint32(buf, uint32(v))
	default:
		order.PutUint64(buf, v)
	}
}

// retryDeferred evaluates deferred expressions until a round makes no
// progress. What is left stays deferred.
func (ctx *Context) retryDeferred() {
	for progress := true; progress; {
		progress = false
		pending := ctx.deferred
		ctx.deferred = nil
		for _, d := range pending {
			var err error
			switch {
			case d.assign != nil:
				if sym := ctx.scriptSymbol(d.assign); sym != nil {
					err = ctx.assignSymbol(&d.env, d.assign, sym)
				}
			case d.data != nil:
				var v script.Word
				if v, err = d.data.Value.Eval(&d.env); err == nil {
					ctx.putData(d.buf, d.data.Size, uint64(v))
				}
			case d.assert != nil:
				err = ctx.checkAssert(&d.env, d.assert)
			}
			if err != nil {
				if !isUnknown(err) {
					ctx.Diag.Error("%v", err)
					continue
				}
				d.err = err
				ctx.deferred = append(ctx.deferred, d)
				continue
			}
			progress = true
		}
	}
}

// FinishScript evaluates what layout had to leave open, now that linker
// symbols are known. Expressions that still fail are errors.
func FinishScript(ctx *Context) {
	ctx.retryDeferred()
	for _, d := range ctx.deferred {
		ctx.Diag.Error("%v", d.err)
	}
	ctx.deferred = nil
}

func fillPattern(v uint64) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(v))
	return buf
}

func hasCommonPattern(spec *script.InputSectionSpec) bool {
	return slices.Contains(spec.SectionPatterns, CommonSectionName)
}

func (l *scriptLayout) matchFile(spec *script.InputSectionSpec, obj *ObjectUnit) bool {
	if spec.MatchFile(obj.Name) {
		return true
	}
	return obj.Archive != "" && spec.MatchFile(obj.Archive)
}

// match collects the input sections spec selects that are still owned by
// a unit. Link-once copies after the first are discarded on the way.
func (l *scriptLayout) match(spec *script.InputSectionSpec, taken map[*Section]bool) []*Section {
	var list []*Section
	for _, obj := range l.ctx.Objs {
		if obj.Kind == UnitShared || !l.matchFile(spec, obj) {
			continue
		}
		for _, sec := range slices.Clone(obj.Sections) {
			if taken[sec] {
				continue
			}
			if sec.Flags&SecCommon != 0 {
				if !hasCommonPattern(spec) {
					continue
				}
			} else if !spec.MatchSection(sec.Name) {
				continue
			}
			if keep := linkOnceCopy(l.kept, sec); keep != nil {
				discardSection(sec, keep)
				continue
			}
			taken[sec] = true
			list = append(list, sec)
		}
	}
	if spec.Sort {
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Name < list[j].Name
		})
	}
	return list
}

func (l *scriptLayout) discard(o *script.OutputSection) {
	taken := make(map[*Section]bool)
	for _, item := range o.Items {
		if spec, ok := item.(*script.InputSectionSpec); ok {
			for _, sec := range l.match(spec, taken) {
				discardSection(sec, nil)
			}
		}
	}
}

func isNonAllocType(typ string) bool {
	switch typ {
	case "INFO", "COPY", "DSECT":
		return true
	}
	return false
}

// block lays out one output section definition.
func (l *scriptLayout) block(o *script.OutputSection) {
	ctx := l.ctx
	if o.IsDiscard() {
		l.discard(o)
		return
	}

	// The first pass selects input sections, so that alignment and
	// allocation are known before the address is.
	taken := make(map[*Section]bool)
	matches := make(map[*script.InputSectionSpec][]*Section)
	var p2align uint8
	alloc := !isNonAllocType(o.Type)
	hasAlloc, hasInputs, hasData := false, false, false
	for _, item := range o.Items {
		switch it := item.(type) {
		case *script.InputSectionSpec:
			secs := l.match(it, taken)
			matches[it] = secs
			for _, sec := range secs {
				hasInputs = true
				hasAlloc = hasAlloc || sec.IsAlloc()
				p2align = utils.Max(p2align, sec.P2Align)
				if it.Keep {
					sec.Flags |= SecKeep
				}
			}
		case *script.DataItem:
			hasData = true
		}
	}
	if hasInputs && !hasAlloc && !hasData {
		alloc = false
	}

	flags := SecUninitialized
	if alloc {
		flags |= SecAlloc
	}
	ls := ctx.AddLinkedSection(NewLinkedSection(o.Name, SecUData, 0, flags))
	ls.P2Align = p2align
	if o.Align != nil {
		if v, err := l.eval(o.Align); err != nil {
			ctx.Diag.Error("%v", err)
		} else if v > 1 {
			ls.P2Align = utils.Max(ls.P2Align, uint8(63-bits.LeadingZeros64(v)))
		}
	}
	if o.Fill != nil {
		if v, err := l.eval(o.Fill); err != nil {
			ctx.Diag.Error("%v", err)
		} else {
			ls.Fill = fillPattern(v)
		}
	}

	region := l.region
	if o.Region != "" {
		if region = ctx.Region(o.Region); region == nil {
			ctx.Diag.Error("%s: memory region '%s' not declared", o.Pos, o.Region)
		}
	}

	var base uint64
	switch {
	case !alloc:
		base = 0
	case o.Addr != nil:
		v, err := l.eval(o.Addr)
		if err != nil {
			ctx.Diag.Error("%s: address of %s: %v", o.Pos, o.Name, err)
		}
		base = v
		if o.Region == "" {
			region = nil
		}
	case region != nil:
		base = utils.AlignTo(region.Current, ls.Alignment())
	default:
		base = utils.AlignTo(l.dot, ls.Alignment())
	}

	saved := l.dot
	ls.Base = base
	ls.placed = true
	l.cur, l.dot = ls, base

	for _, item := range o.Items {
		switch it := item.(type) {
		case *script.InputSectionSpec:
			for _, sec := range matches[it] {
				off := utils.AlignTo(l.dot-base, sec.Alignment())
				ls.AddSectionAt(sec, off)
				l.dot = base + off + sec.Size
			}
		case *script.Assignment:
			l.assign(it)
		case *script.DataItem:
			l.data(ls, it)
		case *script.FillItem:
			if v, err := l.eval(it.Value); err != nil {
				ctx.Diag.Error("%v", err)
			} else {
				ls.Fill = fillPattern(v)
			}
		case *script.AssertCommand:
			l.assert(it)
		}
	}
	ls.Grow(l.dot - base)
	l.cur = nil

	if !alloc {
		ls.Flags &^= SecAlloc
		l.dot = saved
		return
	}
	if o.Type == script.SectionTypeNoLoad {
		ls.Type = SecUData
		ls.Flags |= SecUninitialized
		ls.FileSize = 0
	}

	switch {
	case o.At != nil:
		v, err := l.eval(o.At)
		if err != nil {
			ctx.Diag.Error("%s: load address of %s: %v", o.Pos, o.Name, err)
		}
		ls.CopyBase = v
	case o.LMARegion != "":
		lma := ctx.Region(o.LMARegion)
		if lma == nil {
			ctx.Diag.Error("%s: memory region '%s' not declared", o.Pos, o.LMARegion)
			ls.CopyBase = ls.Base
			break
		}
		ls.CopyBase = utils.AlignTo(lma.Current, ls.Alignment())
		if err := lma.Advance(ls.CopyBase + ls.Size); err != nil {
			ctx.Diag.Error("%s: %v", o.Name, err)
		}
	case o.Addr == nil:
		ls.CopyBase = ls.Base + l.lmaDelta
	default:
		ls.CopyBase = ls.Base
	}
	l.lmaDelta = ls.CopyBase - ls.Base

	if region != nil {
		if err := region.Advance(ls.End()); err != nil {
			ctx.Diag.Error("%s: %v", o.Name, err)
		}
	}
	l.region = region
	l.last = ls

	phdrs := o.Phdrs
	if len(phdrs) == 0 {
		phdrs = l.phdrs
	}
	l.phdrs = phdrs
	l.addToSegments(ls, phdrs)
}

func (l *scriptLayout) data(ls *LinkedSection, it *script.DataItem) {
	sec := NewSection(ls.Name, SecData, ProtRead, 0)
	sec.Size = uint64(it.Size)
	sec.Data = make([]byte, it.Size)
	l.ctx.ScriptObj.AddSection(sec)
	ls.AddSectionAt(sec, l.dot-ls.Base)
	l.dot += sec.Size

	env := l.env()
	v, err := it.Value.Eval(&env)
	switch {
	case err == nil:
		l.ctx.putData(sec.Data, it.Size, uint64(v))
	case isUnknown(err):
		l.ctx.deferred = append(l.ctx.deferred, &deferredEval{env: env, data: it, buf: sec.Data, err: err})
	default:
		l.ctx.Diag.Error("%v", err)
	}
}

func (l *scriptLayout) addToSegments(ls *LinkedSection, names []string) {
	claimed := false
	for _, name := range names {
		seg := l.ctx.Segment(name)
		if seg == nil {
			l.ctx.Diag.Error("segment '%s' of output section %s not declared in PHDRS", name, ls.Name)
			continue
		}
		if seg.IsLoad() {
			if claimed {
				l.ctx.Diag.Error("output section %s assigned to more than one loadable segment (%s)", ls.Name, name)
				continue
			}
			claimed = true
		}
		seg.Sections = append(seg.Sections, ls)
	}
}

// placeOrphans joins the sections no block asked for and places them
// behind the last block.
func (l *scriptLayout) placeOrphans() {
	ctx := l.ctx
	created := ctx.joinSections()
	var lastLoad *Segment
	for _, seg := range ctx.Segments {
		if seg.IsLoad() && l.last != nil && seg.Contains(l.last) {
			lastLoad = seg
		}
	}

	for _, ls := range created {
		ls.placed = true
		if !ls.IsAlloc() {
			continue
		}
		ls.Base = utils.AlignTo(l.dot, ls.Alignment())
		ls.CopyBase = ls.Base + l.lmaDelta
		l.dot = ls.End()
		if l.region != nil {
			if err := l.region.Advance(l.dot); err != nil {
				ctx.Diag.Error("%s: %v", ls.Name, err)
			}
		}
		if lastLoad != nil {
			lastLoad.Sections = append(lastLoad.Sections, ls)
		}
	}
}
