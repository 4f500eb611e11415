package feishu

import "strconv"

// Block type codes used by the docx open API.
const (
	BlockTypePage           = 1
	BlockTypeText           = 2
	BlockTypeHeading1       = 3
	BlockTypeHeading9       = 11
	BlockTypeBullet         = 12
	BlockTypeOrdered        = 13
	BlockTypeCode           = 14
	BlockTypeQuote          = 15
	BlockTypeTodo           = 17
	BlockTypeBitable        = 18
	BlockTypeCallout        = 19
	BlockTypeChatCard       = 20
	BlockTypeDiagram        = 21
	BlockTypeDivider        = 22
	BlockTypeFile           = 23
	BlockTypeGrid           = 24
	BlockTypeGridColumn     = 25
	BlockTypeIframe         = 26
	BlockTypeImage          = 27
	BlockTypeISV            = 28
	BlockTypeMindNote       = 29
	BlockTypeSheet          = 30
	BlockTypeTable          = 31
	BlockTypeTableCell      = 32
	BlockTypeView           = 33
	BlockTypeQuoteContainer = 34
	BlockTypeTask           = 35
	BlockTypeOKR            = 36
	BlockTypeJiraIssue      = 38
	BlockTypeWikiCatalog    = 39
	BlockTypeBoard          = 43
	BlockTypeAgenda         = 44
	BlockTypeLinkPreview    = 48
	BlockTypeSyncSource     = 49
	BlockTypeSyncReference  = 50
	BlockTypeUndefined      = 999
)

var blockTypeNames = map[int]string{
	BlockTypePage:           "page",
	BlockTypeText:           "text",
	BlockTypeBullet:         "bullet",
	BlockTypeOrdered:        "ordered",
	BlockTypeCode:           "code",
	BlockTypeQuote:          "quote",
	BlockTypeTodo:           "todo",
	BlockTypeBitable:        "bitable",
	BlockTypeCallout:        "callout",
	BlockTypeChatCard:       "chat_card",
	BlockTypeDiagram:        "diagram",
	BlockTypeDivider:        "divider",
	BlockTypeFile:           "file",
	BlockTypeGrid:           "grid",
	BlockTypeGridColumn:     "grid_column",
	BlockTypeIframe:         "iframe",
	BlockTypeImage:          "image",
	BlockTypeISV:            "isv",
	BlockTypeMindNote:       "mindnote",
	BlockTypeSheet:          "sheet",
	BlockTypeTable:          "table",
	BlockTypeTableCell:      "table_cell",
	BlockTypeView:           "view",
	BlockTypeQuoteContainer: "quote_container",
	BlockTypeTask:           "task",
	BlockTypeOKR:            "okr",
	BlockTypeJiraIssue:      "jira_issue",
	BlockTypeWikiCatalog:    "wiki_catalog",
	BlockTypeBoard:          "board",
	BlockTypeAgenda:         "agenda",
	BlockTypeLinkPreview:    "link_preview",
	BlockTypeSyncSource:     "source_synced",
	BlockTypeSyncReference:  "reference_synced",
	BlockTypeUndefined:      "undefined",
}

// BlockTypeName returns the API name of a block type code, or "block_<code>"
// for codes this exporter does not know.
func BlockTypeName(code int) string {
	if code >= BlockTypeHeading1 && code <= BlockTypeHeading9 {
		return "heading" + strconv.Itoa(code-BlockTypeHeading1+1)
	}
	if name, ok := blockTypeNames[code]; ok {
		return name
	}
	return "block_" + strconv.Itoa(code)
}

// RawBlock is one record of the docx block listing, as returned by
// GET /open-apis/docx/v1/documents/{id}/blocks.
type RawBlock struct {
	BlockID   string   `json:"block_id"`
	ParentID  string   `json:"parent_id"`
	Children  []string `json:"children"`
	BlockType int      `json:"block_type"`

	Page           *TextPayload `json:"page,omitempty"`
	Text           *TextPayload `json:"text,omitempty"`
	Heading1       *TextPayload `json:"heading1,omitempty"`
	Heading2       *TextPayload `json:"heading2,omitempty"`
	Heading3       *TextPayload `json:"heading3,omitempty"`
	Heading4       *TextPayload `json:"heading4,omitempty"`
	Heading5       *TextPayload `json:"heading5,omitempty"`
	Heading6       *TextPayload `json:"heading6,omitempty"`
	Heading7       *TextPayload `json:"heading7,omitempty"`
	Heading8       *TextPayload `json:"heading8,omitempty"`
	Heading9       *TextPayload `json:"heading9,omitempty"`
	Bullet         *TextPayload `json:"bullet,omitempty"`
	Ordered        *TextPayload `json:"ordered,omitempty"`
	Code           *TextPayload `json:"code,omitempty"`
	Quote          *TextPayload `json:"quote,omitempty"`
	Todo           *TextPayload `json:"todo,omitempty"`
	Callout        *TextPayload `json:"callout,omitempty"`
	Image          *MediaBlock  `json:"image,omitempty"`
	File           *MediaBlock  `json:"file,omitempty"`
	Board          *TokenBlock  `json:"board,omitempty"`
	Sheet          *TokenBlock  `json:"sheet,omitempty"`
	Bitable        *TokenBlock  `json:"bitable,omitempty"`
	MindNote       *TokenBlock  `json:"mindnote,omitempty"`
	Table          *TableBlock  `json:"table,omitempty"`
	Iframe         *IframeBlock `json:"iframe,omitempty"`
	QuoteContainer *struct{}    `json:"quote_container,omitempty"`

	ReferenceBase *ReferenceBaseBlock `json:"reference_base,omitempty"`
}

// HeadingPayload returns the text payload of a heading block of the given
// level, or nil.
func (b RawBlock) HeadingPayload(level int) *TextPayload {
	switch level {
	case 1:
		return b.Heading1
	case 2:
		return b.Heading2
	case 3:
		return b.Heading3
	case 4:
		return b.Heading4
	case 5:
		return b.Heading5
	case 6:
		return b.Heading6
	case 7:
		return b.Heading7
	case 8:
		return b.Heading8
	case 9:
		return b.Heading9
	default:
		return nil
	}
}

type TextPayload struct {
	Elements []TextElement `json:"elements"`
	Style    *TextStyle    `json:"style,omitempty"`
}

type TextStyle struct {
	Align    int    `json:"align,omitempty"`
	Done     bool   `json:"done,omitempty"`
	Folded   bool   `json:"folded,omitempty"`
	Language int    `json:"language,omitempty"`
	Wrap     bool   `json:"wrap,omitempty"`
	Sequence string `json:"sequence,omitempty"`
}

// TextElement is one inline run. Exactly one of the pointer fields is set.
type TextElement struct {
	TextRun     *TextRun     `json:"text_run,omitempty"`
	MentionUser *MentionUser `json:"mention_user,omitempty"`
	MentionDoc  *MentionDoc  `json:"mention_doc,omitempty"`
	Equation    *Equation    `json:"equation,omitempty"`
	LinkPreview *LinkPreview `json:"link_preview,omitempty"`
}

type TextRun struct {
	Content string        `json:"content"`
	Style   *ElementStyle `json:"text_element_style,omitempty"`
}

type ElementStyle struct {
	Bold          bool  `json:"bold,omitempty"`
	Italic        bool  `json:"italic,omitempty"`
	Strikethrough bool  `json:"strikethrough,omitempty"`
	Underline     bool  `json:"underline,omitempty"`
	InlineCode    bool  `json:"inline_code,omitempty"`
	Link          *Link `json:"link,omitempty"`
}

type Link struct {
	URL string `json:"url"`
}

type MentionUser struct {
	UserID string        `json:"user_id"`
	Style  *ElementStyle `json:"text_element_style,omitempty"`

	// Name is filled in by the exporter from the contact directory.
	Name string `json:"-"`
}

// Label is the display name when known, otherwise the user id.
func (m *MentionUser) Label() string {
	if m.Name != "" {
		return m.Name
	}
	return m.UserID
}

type MentionDoc struct {
	Token   string        `json:"token"`
	ObjType int           `json:"obj_type"`
	URL     string        `json:"url"`
	Title   string        `json:"title"`
	Style   *ElementStyle `json:"text_element_style,omitempty"`
}

type Equation struct {
	Content string        `json:"content"`
	Style   *ElementStyle `json:"text_element_style,omitempty"`
}

type LinkPreview struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

type MediaBlock struct {
	Token  string `json:"token"`
	Name   string `json:"name,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

type TokenBlock struct {
	Token string `json:"token"`
}

// ReferenceBaseBlock points at a bitable table, optionally through one of
// its views. Token is "<app_token>_<table_id>".
type ReferenceBaseBlock struct {
	Token  string `json:"token"`
	ViewID string `json:"view_id"`
}

type IframeBlock struct {
	Component struct {
		IframeType int    `json:"iframe_type"`
		URL        string `json:"url"`
	} `json:"component"`
}

type TableBlock struct {
	Cells    []string      `json:"cells"`
	Property TableProperty `json:"property"`
}

type TableProperty struct {
	RowSize    int         `json:"row_size"`
	ColumnSize int         `json:"column_size"`
	MergeInfo  []MergeInfo `json:"merge_info,omitempty"`
}

type MergeInfo struct {
	RowSpan int `json:"row_span"`
	ColSpan int `json:"col_span"`
}

// DocumentInfo is the metadata of a docx document.
type DocumentInfo struct {
	DocumentID string `json:"document_id"`
	RevisionID int    `json:"revision_id"`
	Title      string `json:"title"`
}

// SpaceInfo is the metadata of a wiki knowledge space.
type SpaceInfo struct {
	SpaceID     string `json:"space_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Wiki node object types.
const (
	ObjTypeDoc      = "doc"
	ObjTypeDocx     = "docx"
	ObjTypeSheet    = "sheet"
	ObjTypeBitable  = "bitable"
	ObjTypeMindNote = "mindnote"
	ObjTypeFile     = "file"
	ObjTypeSlides   = "slides"
)

// WikiNode is one entry of a knowledge space tree.
type WikiNode struct {
	SpaceID         string `json:"space_id"`
	NodeToken       string `json:"node_token"`
	ParentNodeToken string `json:"parent_node_token"`
	ObjToken        string `json:"obj_token"`
	ObjType         string `json:"obj_type"`
	NodeType        string `json:"node_type"`
	Title           string `json:"title"`
	HasChild        bool   `json:"has_child"`
	ObjEditTime     string `json:"obj_edit_time"`
	ObjCreateTime   string `json:"obj_create_time"`
}

// Exportable reports whether the node points at content this exporter can
// render.
func (n WikiNode) Exportable() bool {
	switch n.ObjType {
	case ObjTypeDocx, ObjTypeSheet, ObjTypeBitable:
		return true
	default:
		return false
	}
}

// AssetKind selects the download endpoint for an asset token.
type AssetKind string

const (
	AssetImage AssetKind = "image"
	AssetFile  AssetKind = "file"
	AssetBoard AssetKind = "board"
)

// AssetRef identifies a downloadable binary referenced by a block.
type AssetRef struct {
	Kind  AssetKind
	Token string
	Name  string
}

// Media is a downloaded asset body.
type Media struct {
	Data        []byte
	Filename    string
	ContentType string
}

// SheetMeta describes one worksheet of a spreadsheet.
type SheetMeta struct {
	SheetID string `json:"sheet_id"`
	Title   string `json:"title"`
	Index   int    `json:"index"`
}

// BitableTable describes one table of a bitable app.
type BitableTable struct {
	TableID string `json:"table_id"`
	Name    string `json:"name"`
}

// BitableField is a column definition of a bitable table.
type BitableField struct {
	FieldID   string `json:"field_id"`
	FieldName string `json:"field_name"`
	Type      int    `json:"type"`
	UIType    string `json:"ui_type"`
}
