package exporter

import (
	"slices"
	"strconv"
	"strings"

	feishudomain "github.com/sleroq/feishu-to-markdown/internal/domain/feishu"
)

// Kind is the closed set of block shapes the renderer knows how to emit.
type Kind int

const (
	KindUnsupported Kind = iota
	KindPage
	KindParagraph
	KindHeading
	KindBullet
	KindOrdered
	KindTodo
	KindCode
	KindQuote
	KindQuoteContainer
	KindCallout
	KindDivider
	KindImage
	KindFile
	KindBoard
	KindSheet
	KindBitable
	KindTable
	KindTableCell
	KindMindNote
	KindContainer
)

var allKinds = []Kind{
	KindUnsupported, KindPage, KindParagraph, KindHeading, KindBullet, KindOrdered,
	KindTodo, KindCode, KindQuote, KindQuoteContainer, KindCallout, KindDivider,
	KindImage, KindFile, KindBoard, KindSheet, KindBitable, KindTable, KindTableCell,
	KindMindNote, KindContainer,
}

var kindNames = map[Kind]string{
	KindUnsupported:    "unsupported",
	KindPage:           "page",
	KindParagraph:      "paragraph",
	KindHeading:        "heading",
	KindBullet:         "bullet",
	KindOrdered:        "ordered",
	KindTodo:           "todo",
	KindCode:           "code",
	KindQuote:          "quote",
	KindQuoteContainer: "quote_container",
	KindCallout:        "callout",
	KindDivider:        "divider",
	KindImage:          "image",
	KindFile:           "file",
	KindBoard:          "board",
	KindSheet:          "sheet",
	KindBitable:        "bitable",
	KindTable:          "table",
	KindTableCell:      "table_cell",
	KindMindNote:       "mindnote",
	KindContainer:      "container",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// AssetRef is a downloadable binary referenced by a block. Path is filled in
// by the asset resolver and is relative to the document file.
type AssetRef struct {
	feishudomain.AssetRef
	Path string
}

// Embed is a sheet or bitable table embedded in a document. Rows stays nil
// until the resolver fetched it.
type Embed struct {
	Kind   feishudomain.RefKind
	Token  string
	Parent string
	Child  string
	View   string
	Rows   [][]string
}

// TableLayout is the grid of a table block. Cells lists the cell block ids in
// row-major order.
type TableLayout struct {
	Rows   int
	Cols   int
	Merges []feishudomain.MergeInfo
	Cells  []string
}

// Block is one node of a BlockTree.
type Block struct {
	ID       string
	ParentID string
	Kind     Kind
	TypeName string
	Level    int
	Text     []feishudomain.TextElement
	Sequence string
	Done     bool
	Language string
	Token    string
	Asset    *AssetRef
	Embed    *Embed
	Table    *TableLayout
	Row      int
	Col      int
	Children []string
}

const rootID = ""

// BlockTree is a document's blocks arranged under a synthetic root.
type BlockTree struct {
	Title  string
	blocks []Block
	index  map[string]int
}

// Root returns the synthetic root block.
func (t *BlockTree) Root() *Block {
	return &t.blocks[0]
}

// Block returns the block with the given id, or nil.
func (t *BlockTree) Block(id string) *Block {
	i, ok := t.index[id]
	if !ok {
		return nil
	}
	return &t.blocks[i]
}

// Len is the number of blocks, not counting the root.
func (t *BlockTree) Len() int {
	return len(t.blocks) - 1
}

// Children returns b's children in document order.
func (t *BlockTree) Children(b *Block) []*Block {
	out := make([]*Block, 0, len(b.Children))
	for _, id := range b.Children {
		if child := t.Block(id); child != nil {
			out = append(out, child)
		}
	}
	return out
}

// Walk visits every block below the root in pre-order. Returning false from
// fn skips the block's subtree.
func (t *BlockTree) Walk(fn func(b *Block, depth int) bool) {
	type item struct {
		idx   int
		depth int
	}
	root := t.Root()
	stack := make([]item, 0, len(root.Children))
	for i := len(root.Children) - 1; i >= 0; i-- {
		stack = append(stack, item{idx: t.index[root.Children[i]], depth: 0})
	}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		b := &t.blocks[it.idx]
		if !fn(b, it.depth) {
			continue
		}
		for i := len(b.Children) - 1; i >= 0; i-- {
			stack = append(stack, item{idx: t.index[b.Children[i]], depth: it.depth + 1})
		}
	}
}

// BuildTree arranges flat block records into a tree. Structural problems are
// repaired and returned as *feishu.MalformedTreeError warnings.
func BuildTree(records []feishudomain.RawBlock) (*BlockTree, []error) {
	t := &BlockTree{
		blocks: make([]Block, 1, len(records)+1),
		index:  map[string]int{rootID: 0},
	}
	t.blocks[0] = Block{ID: rootID, Kind: KindContainer, TypeName: "root"}

	var warnings []error
	for _, rec := range records {
		if rec.BlockID == "" {
			continue
		}
		if _, dup := t.index[rec.BlockID]; dup {
			continue
		}
		t.index[rec.BlockID] = len(t.blocks)
		t.blocks = append(t.blocks, convertBlock(rec))
	}

	listedBy := make(map[string]string)
	for i := 1; i < len(t.blocks); i++ {
		for _, child := range t.blocks[i].Children {
			if _, ok := listedBy[child]; !ok {
				listedBy[child] = t.blocks[i].ID
			}
		}
	}

	parents := make([]string, len(t.blocks))
	for i := 1; i < len(t.blocks); i++ {
		b := &t.blocks[i]
		parent := b.ParentID
		switch {
		case parent == "":
			if listed, ok := listedBy[b.ID]; ok && listed != b.ID {
				parent = listed
			} else {
				parent = rootID
			}
		case parent == b.ID:
			warnings = append(warnings, &feishudomain.MalformedTreeError{BlockID: b.ID, ParentID: parent, Reason: "block is its own parent, reattached to root"})
			parent = rootID
		default:
			if _, ok := t.index[parent]; !ok {
				warnings = append(warnings, &feishudomain.MalformedTreeError{BlockID: b.ID, ParentID: parent, Reason: "parent not found, reattached to root"})
				parent = rootID
			}
		}
		parents[i] = parent
	}

	ordered := make([][]string, len(t.blocks))
	placed := make([]bool, len(t.blocks))
	for i := 1; i < len(t.blocks); i++ {
		for _, child := range t.blocks[i].Children {
			ci, ok := t.index[child]
			if !ok {
				warnings = append(warnings, &feishudomain.MalformedTreeError{BlockID: child, ParentID: t.blocks[i].ID, Reason: "listed child missing from listing"})
				continue
			}
			if placed[ci] || parents[ci] != t.blocks[i].ID {
				continue
			}
			placed[ci] = true
			ordered[i] = append(ordered[i], child)
		}
	}
	for i := 1; i < len(t.blocks); i++ {
		if placed[i] {
			continue
		}
		placed[i] = true
		pi := t.index[parents[i]]
		ordered[pi] = append(ordered[pi], t.blocks[i].ID)
	}

	warnings = append(warnings, t.breakCycles(parents, ordered)...)

	for i := range t.blocks {
		t.blocks[i].Children = ordered[i]
		if i > 0 {
			t.blocks[i].ParentID = parents[i]
		}
	}

	warnings = append(warnings, t.placeTableCells()...)

	for _, id := range t.blocks[0].Children {
		if b := t.Block(id); b != nil && b.Kind == KindPage {
			t.Title = strings.TrimSpace(plainText(b.Text))
			break
		}
	}

	return t, warnings
}

// breakCycles moves every block not reachable from the root under the root,
// detaching it from its old parent so the cycle is cut.
func (t *BlockTree) breakCycles(parents []string, ordered [][]string) []error {
	reached := make([]bool, len(t.blocks))
	mark := func(start int) {
		stack := []int{start}
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if reached[i] {
				continue
			}
			reached[i] = true
			for _, child := range ordered[i] {
				stack = append(stack, t.index[child])
			}
		}
	}
	mark(0)

	var warnings []error
	for i := 1; i < len(t.blocks); i++ {
		if reached[i] {
			continue
		}
		id := t.blocks[i].ID
		old := t.index[parents[i]]
		ordered[old] = slices.DeleteFunc(ordered[old], func(c string) bool { return c == id })
		warnings = append(warnings, &feishudomain.MalformedTreeError{BlockID: id, ParentID: parents[i], Reason: "parent cycle, reattached to root"})
		parents[i] = rootID
		ordered[0] = append(ordered[0], id)
		mark(i)
	}
	return warnings
}

func (t *BlockTree) placeTableCells() []error {
	var warnings []error
	for i := range t.blocks {
		table := t.blocks[i].Table
		if table == nil {
			continue
		}
		cells := table.Cells
		if len(cells) == 0 {
			cells = slices.Clone(t.blocks[i].Children)
			table.Cells = cells
		}
		if table.Cols <= 0 {
			table.Cols = len(cells)
		}
		if table.Cols == 0 {
			continue
		}
		if need := (len(cells) + table.Cols - 1) / table.Cols; table.Rows < need {
			table.Rows = need
		}
		for pos, id := range cells {
			cell := t.Block(id)
			if cell == nil {
				continue
			}
			if cell.Kind != KindTableCell {
				warnings = append(warnings, &feishudomain.MalformedTreeError{BlockID: id, ParentID: t.blocks[i].ID, Reason: "table lists a non-cell block"})
				continue
			}
			cell.Row = pos / table.Cols
			cell.Col = pos % table.Cols
		}
	}
	return warnings
}

func convertBlock(rec feishudomain.RawBlock) Block {
	b := Block{
		ID:       rec.BlockID,
		ParentID: rec.ParentID,
		TypeName: feishudomain.BlockTypeName(rec.BlockType),
		Children: slices.Clone(rec.Children),
		Row:      -1,
		Col:      -1,
	}

	withText := func(kind Kind, p *feishudomain.TextPayload) {
		if p == nil {
			b.Kind = KindUnsupported
			return
		}
		b.Kind = kind
		b.Text = p.Elements
		if p.Style != nil {
			b.Sequence = p.Style.Sequence
			b.Done = p.Style.Done
			b.Language = feishudomain.CodeLanguage(p.Style.Language)
		}
	}
	withAsset := func(kind Kind, assetKind feishudomain.AssetKind, token, name string) {
		if token == "" {
			b.Kind = KindUnsupported
			return
		}
		b.Kind = kind
		b.Asset = &AssetRef{AssetRef: feishudomain.AssetRef{Kind: assetKind, Token: token, Name: name}}
	}
	withEmbed := func(kind Kind, refKind feishudomain.RefKind, p *feishudomain.TokenBlock) {
		if p == nil || p.Token == "" {
			b.Kind = KindUnsupported
			return
		}
		b.Kind = kind
		b.Embed = &Embed{Kind: refKind, Token: p.Token}
		b.Embed.Parent, b.Embed.Child, _ = feishudomain.SplitEmbedToken(p.Token)
	}

	switch code := rec.BlockType; {
	case code == feishudomain.BlockTypePage:
		b.Kind = KindPage
		if rec.Page != nil {
			b.Text = rec.Page.Elements
		}
	case code == feishudomain.BlockTypeText:
		withText(KindParagraph, rec.Text)
	case code >= feishudomain.BlockTypeHeading1 && code <= feishudomain.BlockTypeHeading9:
		level := code - feishudomain.BlockTypeHeading1 + 1
		withText(KindHeading, rec.HeadingPayload(level))
		b.Level = level
	case code == feishudomain.BlockTypeBullet:
		withText(KindBullet, rec.Bullet)
	case code == feishudomain.BlockTypeOrdered:
		withText(KindOrdered, rec.Ordered)
	case code == feishudomain.BlockTypeTodo:
		withText(KindTodo, rec.Todo)
	case code == feishudomain.BlockTypeCode:
		withText(KindCode, rec.Code)
	case code == feishudomain.BlockTypeQuote:
		withText(KindQuote, rec.Quote)
	case code == feishudomain.BlockTypeQuoteContainer:
		b.Kind = KindQuoteContainer
	case code == feishudomain.BlockTypeCallout:
		b.Kind = KindCallout
		if rec.Callout != nil {
			b.Text = rec.Callout.Elements
		}
	case code == feishudomain.BlockTypeDivider:
		b.Kind = KindDivider
	case code == feishudomain.BlockTypeImage:
		if rec.Image == nil {
			b.Kind = KindUnsupported
			break
		}
		withAsset(KindImage, feishudomain.AssetImage, rec.Image.Token, rec.Image.Name)
	case code == feishudomain.BlockTypeFile:
		if rec.File == nil {
			b.Kind = KindUnsupported
			break
		}
		withAsset(KindFile, feishudomain.AssetFile, rec.File.Token, rec.File.Name)
	case code == feishudomain.BlockTypeBoard:
		if rec.Board == nil {
			b.Kind = KindUnsupported
			break
		}
		withAsset(KindBoard, feishudomain.AssetBoard, rec.Board.Token, "")
	case code == feishudomain.BlockTypeSheet:
		withEmbed(KindSheet, feishudomain.RefSheet, rec.Sheet)
	case code == feishudomain.BlockTypeBitable:
		withEmbed(KindBitable, feishudomain.RefBitable, rec.Bitable)
	case code == feishudomain.BlockTypeTable:
		b.Kind = KindTable
		b.Table = &TableLayout{}
		if rec.Table != nil {
			b.Table.Rows = rec.Table.Property.RowSize
			b.Table.Cols = rec.Table.Property.ColumnSize
			b.Table.Merges = rec.Table.Property.MergeInfo
			b.Table.Cells = slices.Clone(rec.Table.Cells)
		}
	case code == feishudomain.BlockTypeTableCell:
		b.Kind = KindTableCell
	case code == feishudomain.BlockTypeMindNote:
		b.Kind = KindMindNote
		if rec.MindNote != nil {
			b.Token = rec.MindNote.Token
		}
	case code == feishudomain.BlockTypeGrid, code == feishudomain.BlockTypeGridColumn, code == feishudomain.BlockTypeView:
		b.Kind = KindContainer
	case rec.ReferenceBase != nil:
		withReferenceBase(&b, rec.ReferenceBase)
	default:
		b.Kind = KindUnsupported
	}
	return b
}

// withReferenceBase turns a bitable reference into a bitable embed. Only
// table references ("tb..." ids) can be exported.
func withReferenceBase(b *Block, ref *feishudomain.ReferenceBaseBlock) {
	app, table, ok := feishudomain.SplitEmbedToken(ref.Token)
	if !ok || !strings.HasPrefix(table, "tb") {
		b.Kind = KindUnsupported
		return
	}
	b.Kind = KindBitable
	b.Embed = &Embed{
		Kind:   feishudomain.RefBitable,
		Token:  ref.Token,
		Parent: app,
		Child:  table,
		View:   ref.ViewID,
	}
}

func plainText(elements []feishudomain.TextElement) string {
	var sb strings.Builder
	for _, el := range elements {
		switch {
		case el.TextRun != nil:
			sb.WriteString(el.TextRun.Content)
		case el.MentionDoc != nil:
			sb.WriteString(el.MentionDoc.Title)
		case el.MentionUser != nil:
			sb.WriteString("@" + el.MentionUser.Label())
		case el.Equation != nil:
			sb.WriteString(el.Equation.Content)
		case el.LinkPreview != nil:
			sb.WriteString(el.LinkPreview.Title)
		}
	}
	return sb.String()
}
