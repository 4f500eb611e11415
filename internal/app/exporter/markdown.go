package exporter

import (
	"bytes"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	feishudomain "github.com/sleroq/feishu-to-markdown/internal/domain/feishu"
)

const (
	TableFormatMarkdown = "md"
	TableFormatHTML     = "html"
)

// Renderer turns a resolved BlockTree into Markdown. It does no I/O and
// identical trees render to identical bytes.
type Renderer struct {
	TableFormat  string
	WithBlockIDs bool
}

// Render returns the document as Markdown with a top-level title heading.
func (r Renderer) Render(tree *BlockTree) string {
	var buf bytes.Buffer
	if title := strings.TrimSpace(tree.Title); title != "" {
		buf.WriteString("# " + escapeMarkdown(title) + "\n")
	}
	body := r.renderSubtree(tree, tree.Root())
	if body != "" {
		if buf.Len() > 0 {
			buf.WriteString("\n")
		}
		buf.WriteString(body)
	}
	return buf.String()
}

type renderItem struct {
	block   *Block
	prefix  string
	sep     bool
	ordinal int
}

// renderSubtree renders parent's descendants. The walk keeps its own stack so
// deeply nested documents do not grow the goroutine stack.
func (r Renderer) renderSubtree(tree *BlockTree, parent *Block) string {
	w := &lineWriter{}
	stack := r.childItems(tree, parent, "")
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if it.sep {
			w.blank(it.prefix)
		}
		if r.WithBlockIDs && emitsLine(it.block.Kind) {
			w.line(it.prefix, "<!-- block:"+it.block.ID+" -->")
		}
		childPrefix, descend := r.emit(w, tree, it)
		if descend {
			stack = append(stack, r.childItems(tree, it.block, childPrefix)...)
		}
	}
	return w.String()
}

// childItems returns b's children as stack items, last child first.
func (r Renderer) childItems(tree *BlockTree, b *Block, prefix string) []renderItem {
	kids := tree.Children(b)
	items := make([]renderItem, len(kids))
	counter := 0
	var prev *Block
	for i, c := range kids {
		it := renderItem{block: c, prefix: prefix}
		if c.Kind == KindOrdered {
			if prev != nil && prev.Kind == KindOrdered {
				counter++
			} else {
				counter = 1
			}
			if n, err := strconv.Atoi(strings.TrimSpace(c.Sequence)); err == nil && n > 0 {
				counter = n
			}
			it.ordinal = counter
		}
		if prev == nil {
			it.sep = emitsLine(b.Kind) && !(isListItem(b.Kind) && isListItem(c.Kind))
		} else {
			it.sep = !sameList(prev.Kind, c.Kind)
		}
		prev = c
		items[len(kids)-1-i] = it
	}
	return items
}

func isListItem(k Kind) bool {
	return k == KindBullet || k == KindOrdered || k == KindTodo
}

// sameList reports whether two adjacent siblings continue one list. Ordered
// items never share a list with bullets or todos.
func sameList(a, b Kind) bool {
	return isListItem(a) && isListItem(b) && (a == KindOrdered) == (b == KindOrdered)
}

// emitsLine reports whether a block writes output of its own rather than
// only hosting children.
func emitsLine(k Kind) bool {
	switch k {
	case KindPage, KindContainer, KindQuoteContainer, KindTableCell:
		return false
	default:
		return true
	}
}

// emit writes one block and returns the prefix for its children and whether
// they should be rendered by the walk.
func (r Renderer) emit(w *lineWriter, tree *BlockTree, it renderItem) (string, bool) {
	b := it.block
	p := it.prefix
	switch b.Kind {
	case KindPage, KindContainer, KindTableCell:
		return p, true
	case KindParagraph:
		w.text(p, "", renderInline(b.Text))
		return p, true
	case KindHeading:
		w.line(p, strings.Repeat("#", max(b.Level, 1))+" "+flattenLines(renderInline(b.Text)))
		return p, true
	case KindBullet:
		w.text(p, "- ", renderInline(b.Text))
		return p + "  ", true
	case KindOrdered:
		w.text(p, strconv.Itoa(it.ordinal)+". ", renderInline(b.Text))
		return p + "  ", true
	case KindTodo:
		marker := "- [ ] "
		if b.Done {
			marker = "- [x] "
		}
		w.text(p, marker, renderInline(b.Text))
		return p + "  ", true
	case KindCode:
		code := strings.TrimRight(plainText(b.Text), "\n")
		fence := codeFence(code)
		w.line(p, fence+b.Language)
		for _, line := range strings.Split(code, "\n") {
			w.raw(p, line)
		}
		w.line(p, fence)
		return p, false
	case KindQuote:
		w.text(p+"> ", "", renderInline(b.Text))
		return p + "> ", true
	case KindQuoteContainer:
		return p + "> ", true
	case KindCallout:
		header := "💡"
		if text := flattenLines(renderInline(b.Text)); text != "" {
			header += " **" + text + "**"
		}
		w.line(p+"> ", header)
		return p + "> ", true
	case KindDivider:
		w.line(p, "---")
		return p, true
	case KindImage, KindBoard:
		if b.Asset == nil || b.Asset.Path == "" {
			w.line(p, assetPlaceholder(b))
			return p, true
		}
		alt := strings.TrimSpace(b.Asset.Name)
		if alt == "" {
			alt = string(b.Asset.Kind)
		}
		w.line(p, "!["+escapeBrackets(alt)+"]("+linkDestination(b.Asset.Path)+")")
		return p, true
	case KindFile:
		if b.Asset == nil || b.Asset.Path == "" {
			w.line(p, assetPlaceholder(b))
			return p, true
		}
		name := strings.TrimSpace(b.Asset.Name)
		if name == "" {
			name = b.Asset.Token
		}
		w.line(p, "[📎 "+escapeBrackets(name)+"]("+linkDestination(b.Asset.Path)+")")
		return p, true
	case KindSheet, KindBitable:
		if b.Embed == nil || b.Embed.Rows == nil {
			token := ""
			if b.Embed != nil {
				token = b.Embed.Token
			}
			w.line(p, "<!-- asset unavailable: "+b.Kind.String()+" "+token+" -->")
			return p, false
		}
		w.block(p, r.renderMatrix(b.Embed.Rows))
		return p, false
	case KindTable:
		w.block(p, r.renderTable(tree, b))
		return p, false
	case KindMindNote:
		w.line(p, "<!-- mindnote: "+b.Token+" -->")
		return p, false
	case KindUnsupported:
		w.line(p, "<!-- unsupported block: "+b.TypeName+" -->")
		return p, true
	default:
		w.line(p, "<!-- unhandled block kind: "+b.Kind.String()+" -->")
		return p, true
	}
}

func assetPlaceholder(b *Block) string {
	token := ""
	if b.Asset != nil {
		token = b.Asset.Token
	}
	return "<!-- asset unavailable: " + b.Kind.String() + " " + token + " -->"
}

// codeFence returns a backtick fence longer than any backtick run in code.
func codeFence(code string) string {
	return strings.Repeat("`", max(3, longestRun(code, '`')+1))
}

func (r Renderer) renderTable(tree *BlockTree, table *Block) string {
	layout := table.Table
	if layout == nil || layout.Rows == 0 || layout.Cols == 0 {
		return ""
	}
	grid := make([][]string, layout.Rows)
	for i := range grid {
		grid[i] = make([]string, layout.Cols)
	}
	for _, id := range layout.Cells {
		cell := tree.Block(id)
		if cell == nil || cell.Kind != KindTableCell || cell.Row < 0 || cell.Row >= layout.Rows || cell.Col < 0 || cell.Col >= layout.Cols {
			continue
		}
		grid[cell.Row][cell.Col] = cellContent(Renderer{TableFormat: r.TableFormat}.renderSubtree(tree, cell))
	}
	if r.TableFormat == TableFormatHTML {
		return renderHTMLTable(grid, layout.Merges)
	}
	return renderMarkdownTable(grid)
}

// renderMatrix renders fetched sheet or bitable values. The values are plain
// data, so only table syntax is escaped.
func (r Renderer) renderMatrix(rows [][]string) string {
	width := 0
	for _, row := range rows {
		width = max(width, len(row))
	}
	if width == 0 {
		return ""
	}
	grid := make([][]string, len(rows))
	for i, row := range rows {
		grid[i] = make([]string, width)
		for j, v := range row {
			grid[i][j] = cellContent(v)
		}
	}
	if r.TableFormat == TableFormatHTML {
		return renderHTMLTable(grid, nil)
	}
	return renderMarkdownTable(grid)
}

// cellContent folds multi-line cell markdown onto one line.
func cellContent(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			kept = append(kept, strings.TrimSpace(line))
		}
	}
	return strings.Join(kept, "<br>")
}

func renderMarkdownTable(grid [][]string) string {
	if len(grid) == 0 {
		return ""
	}
	var buf bytes.Buffer
	writeMarkdownTableRow(&buf, grid[0])
	sep := make([]string, len(grid[0]))
	for i := range sep {
		sep[i] = "---"
	}
	writeMarkdownTableRow(&buf, sep)
	for _, row := range grid[1:] {
		writeMarkdownTableRow(&buf, row)
	}
	return strings.TrimRight(buf.String(), "\n")
}

func writeMarkdownTableRow(buf *bytes.Buffer, row []string) {
	buf.WriteString("|")
	for _, c := range row {
		cell := escapeTablePipes(c)
		cell = strings.ReplaceAll(cell, "\n", "<br>")
		buf.WriteString(" " + strings.TrimSpace(cell) + " |")
	}
	buf.WriteString("\n")
}

// escapeTablePipes escapes every pipe not already escaped by inline
// rendering.
func escapeTablePipes(s string) string {
	if !strings.Contains(s, "|") {
		return s
	}
	var sb strings.Builder
	escaped := false
	for _, r := range s {
		if r == '|' && !escaped {
			sb.WriteByte('\\')
		}
		escaped = r == '\\' && !escaped
		sb.WriteRune(r)
	}
	return sb.String()
}

// renderHTMLTable builds a <table> with rowspan/colspan taken from merges,
// which are indexed by flat row-major position.
func renderHTMLTable(grid [][]string, merges []feishudomain.MergeInfo) string {
	if len(grid) == 0 {
		return ""
	}
	cols := len(grid[0])
	covered := make([][]bool, len(grid))
	for i := range covered {
		covered[i] = make([]bool, cols)
	}

	table := &html.Node{Type: html.ElementNode, Data: "table", DataAtom: atom.Table}
	newline := func(parent *html.Node) {
		parent.AppendChild(&html.Node{Type: html.TextNode, Data: "\n"})
	}
	newline(table)
	for r, row := range grid {
		tr := &html.Node{Type: html.ElementNode, Data: "tr", DataAtom: atom.Tr}
		for c := 0; c < cols; c++ {
			if covered[r][c] {
				continue
			}
			tag, a := "td", atom.Td
			if r == 0 {
				tag, a = "th", atom.Th
			}
			cell := &html.Node{Type: html.ElementNode, Data: tag, DataAtom: a}
			if idx := r*cols + c; idx < len(merges) {
				rowSpan, colSpan := merges[idx].RowSpan, merges[idx].ColSpan
				if rowSpan > 1 {
					cell.Attr = append(cell.Attr, html.Attribute{Key: "rowspan", Val: strconv.Itoa(rowSpan)})
				}
				if colSpan > 1 {
					cell.Attr = append(cell.Attr, html.Attribute{Key: "colspan", Val: strconv.Itoa(colSpan)})
				}
				for dr := 0; dr < max(rowSpan, 1); dr++ {
					for dc := 0; dc < max(colSpan, 1); dc++ {
						if (dr != 0 || dc != 0) && r+dr < len(grid) && c+dc < cols {
							covered[r+dr][c+dc] = true
						}
					}
				}
			}
			if c < len(row) && row[c] != "" {
				cell.AppendChild(&html.Node{Type: html.RawNode, Data: row[c]})
			}
			tr.AppendChild(cell)
		}
		table.AppendChild(tr)
		newline(table)
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, table); err != nil {
		return ""
	}
	return buf.String()
}

func renderInline(elements []feishudomain.TextElement) string {
	var sb strings.Builder
	for _, el := range elements {
		switch {
		case el.TextRun != nil:
			sb.WriteString(styleRun(el.TextRun.Content, el.TextRun.Style))
		case el.MentionDoc != nil:
			title := strings.TrimSpace(el.MentionDoc.Title)
			if title == "" {
				title = el.MentionDoc.Token
			}
			target := unescapeLink(el.MentionDoc.URL)
			if target == "" {
				sb.WriteString(escapeMarkdown(title))
				continue
			}
			sb.WriteString("[" + escapeMarkdown(title) + "](" + linkDestination(target) + ")")
		case el.MentionUser != nil:
			sb.WriteString("@" + escapeMarkdown(el.MentionUser.Label()))
		case el.Equation != nil:
			if eq := strings.TrimSpace(el.Equation.Content); eq != "" {
				sb.WriteString("$" + eq + "$")
			}
		case el.LinkPreview != nil:
			target := unescapeLink(el.LinkPreview.URL)
			title := strings.TrimSpace(el.LinkPreview.Title)
			if title == "" {
				title = target
			}
			if target == "" {
				sb.WriteString(escapeMarkdown(title))
				continue
			}
			sb.WriteString("[" + escapeMarkdown(title) + "](" + linkDestination(target) + ")")
		}
	}
	return sb.String()
}

// styleRun applies marks in the order code, italic, bold, strike, underline,
// link. Leading and trailing spaces stay outside the markers.
func styleRun(content string, style *feishudomain.ElementStyle) string {
	if content == "" {
		return ""
	}
	if style == nil {
		return escapeMarkdown(content)
	}
	core := strings.TrimSpace(content)
	if core == "" {
		return content
	}
	start := strings.Index(content, core)
	lead, trail := content[:start], content[start+len(core):]

	var s string
	if style.InlineCode {
		s = codeSpan(core)
	} else {
		s = escapeMarkdown(core)
	}
	if style.Italic {
		s = "*" + s + "*"
	}
	if style.Bold {
		s = "**" + s + "**"
	}
	if style.Strikethrough {
		s = "~~" + s + "~~"
	}
	if style.Underline {
		s = "<u>" + s + "</u>"
	}
	if style.Link != nil {
		if target := unescapeLink(style.Link.URL); target != "" {
			s = "[" + s + "](" + linkDestination(target) + ")"
		}
	}
	return lead + s + trail
}

func codeSpan(s string) string {
	fence := strings.Repeat("`", max(1, longestRun(s, '`')+1))
	if strings.HasPrefix(s, "`") || strings.HasSuffix(s, "`") {
		return fence + " " + s + " " + fence
	}
	return fence + s + fence
}

func longestRun(s string, target rune) int {
	longest, run := 0, 0
	for _, r := range s {
		if r == target {
			run++
			longest = max(longest, run)
		} else {
			run = 0
		}
	}
	return longest
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	"`", "\\`",
	`*`, `\*`,
	`_`, `\_`,
	`[`, `\[`,
	`]`, `\]`,
	`<`, `\<`,
	`>`, `\>`,
	`~`, `\~`,
	`|`, `\|`,
)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

// unescapeLink decodes the percent-encoded URLs the docx API returns.
func unescapeLink(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if decoded, err := url.QueryUnescape(raw); err == nil {
		return decoded
	}
	return raw
}

// linkDestination wraps destinations that would otherwise end the link early.
func linkDestination(target string) string {
	if strings.ContainsAny(target, " ()<>") {
		return "<" + strings.NewReplacer("<", "%3C", ">", "%3E").Replace(target) + ">"
	}
	return target
}

func flattenLines(s string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(s, "\n", " ")), " ")
}

// lineWriter accumulates prefixed output lines.
type lineWriter struct {
	lines []string
}

func (w *lineWriter) line(prefix, s string) {
	w.lines = append(w.lines, prefix+s)
}

// raw writes s verbatim under prefix, keeping blank lines blank.
func (w *lineWriter) raw(prefix, s string) {
	if s == "" {
		w.lines = append(w.lines, strings.TrimRight(prefix, " "))
		return
	}
	w.lines = append(w.lines, prefix+s)
}

// text writes possibly multi-line inline text after marker, indenting
// continuation lines to the marker width.
func (w *lineWriter) text(prefix, marker, s string) {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if marker == "" && len(lines) == 1 && strings.TrimSpace(lines[0]) == "" {
		return
	}
	w.lines = append(w.lines, prefix+marker+escapeLineStart(lines[0]))
	pad := strings.Repeat(" ", len(marker))
	for _, line := range lines[1:] {
		w.raw(prefix+pad, escapeLineStart(line))
	}
}

// escapeLineStart keeps text that looks like a heading, list item, rule or
// setext underline at the start of a line from being parsed as one.
func escapeLineStart(line string) string {
	body := strings.TrimLeft(line, " \t")
	indent := line[:len(line)-len(body)]
	if body == "" {
		return line
	}
	switch body[0] {
	case '#', '-', '+', '=':
		return indent + `\` + body
	}
	digits := 0
	for digits < len(body) && digits < 10 && body[digits] >= '0' && body[digits] <= '9' {
		digits++
	}
	if digits == 0 || digits > 9 || digits == len(body) {
		return line
	}
	if p := body[digits]; p != '.' && p != ')' {
		return line
	}
	if rest := body[digits+1:]; rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return line
	}
	return indent + body[:digits] + `\` + body[digits:]
}

// block writes a pre-rendered multi-line chunk under prefix.
func (w *lineWriter) block(prefix, s string) {
	if s == "" {
		return
	}
	for _, line := range strings.Split(s, "\n") {
		w.raw(prefix, line)
	}
}

// blank separates blocks with one empty line, carrying quote markers.
func (w *lineWriter) blank(prefix string) {
	if len(w.lines) == 0 {
		return
	}
	marker := strings.TrimRight(prefix, " ")
	if last := strings.TrimRight(w.lines[len(w.lines)-1], " "); last == "" || last == marker {
		return
	}
	w.lines = append(w.lines, marker)
}

func (w *lineWriter) String() string {
	if len(w.lines) == 0 {
		return ""
	}
	out := make([]string, len(w.lines))
	for i, line := range w.lines {
		out[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(out, "\n") + "\n"
}
