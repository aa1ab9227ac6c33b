package knowledge

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	apperrors "github.com/aihub/rag-service/internal/errors"
	"github.com/unidoc/unioffice/document"
	"github.com/unidoc/unioffice/spreadsheet"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"
)

// FileParser 将上传文件转换为纯文本，供分块器使用
type FileParser interface {
	Parse(data []byte, filename string) (string, error)
	Extensions() []string
}

// TextParser 纯文本和Markdown
type TextParser struct{}

func (p *TextParser) Extensions() []string { return []string{".txt", ".md", ".markdown"} }

func (p *TextParser) Parse(data []byte, filename string) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("file is not valid UTF-8 text")
	}
	return string(data), nil
}

// PDFParser PDF文件解析器
type PDFParser struct{}

func (p *PDFParser) Extensions() []string { return []string{".pdf"} }

func (p *PDFParser) Parse(data []byte, filename string) (string, error) {
	pdfReader, err := model.NewPdfReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("解析PDF失败: %w", err)
	}

	numPages, err := pdfReader.GetNumPages()
	if err != nil {
		return "", fmt.Errorf("获取PDF页数失败: %w", err)
	}

	var textBuilder strings.Builder
	for i := 1; i <= numPages; i++ {
		page, err := pdfReader.GetPage(i)
		if err != nil {
			continue
		}
		ex, err := extractor.New(page)
		if err != nil {
			continue
		}
		text, err := ex.ExtractText()
		if err != nil {
			continue
		}

		// 页与页之间用空行分隔，分块时可作为段落边界
		textBuilder.WriteString(strings.TrimSpace(text))
		textBuilder.WriteString("\n\n")
	}

	return textBuilder.String(), nil
}

// WordParser Word文档解析器，仅支持.docx
type WordParser struct{}

func (p *WordParser) Extensions() []string { return []string{".docx"} }

func (p *WordParser) Parse(data []byte, filename string) (string, error) {
	doc, err := document.Read(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("解析Word文档失败: %w", err)
	}
	defer doc.Close()

	var textBuilder strings.Builder
	for _, para := range doc.Paragraphs() {
		for _, run := range para.Runs() {
			textBuilder.WriteString(run.Text())
		}
		textBuilder.WriteString("\n")
	}

	return textBuilder.String(), nil
}

// ExcelParser Excel解析器，仅支持.xlsx，每行以制表符分隔
type ExcelParser struct{}

func (p *ExcelParser) Extensions() []string { return []string{".xlsx"} }

func (p *ExcelParser) Parse(data []byte, filename string) (string, error) {
	ss, err := spreadsheet.Read(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("解析Excel文档失败: %w", err)
	}
	defer ss.Close()

	var textBuilder strings.Builder
	for _, sheet := range ss.Sheets() {
		textBuilder.WriteString(fmt.Sprintf("Sheet: %s\n", sheet.Name()))

		for _, row := range sheet.Rows() {
			var rowText []string
			for _, cell := range row.Cells() {
				rowText = append(rowText, cell.GetString())
			}
			if len(rowText) > 0 {
				textBuilder.WriteString(strings.Join(rowText, "\t"))
				textBuilder.WriteString("\n")
			}
		}
		textBuilder.WriteString("\n")
	}

	return textBuilder.String(), nil
}

// FileParserManager 按扩展名选择解析器
type FileParserManager struct {
	parsers map[string]FileParser
}

// NewFileParserManager 创建文件解析器管理器
func NewFileParserManager() *FileParserManager {
	m := &FileParserManager{parsers: make(map[string]FileParser)}
	for _, parser := range []FileParser{&TextParser{}, &PDFParser{}, &WordParser{}, &ExcelParser{}} {
		for _, ext := range parser.Extensions() {
			m.parsers[ext] = parser
		}
	}
	return m
}

// Supports 是否支持该文件
func (m *FileParserManager) Supports(filename string) bool {
	_, ok := m.parsers[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// ParseFile 解析文件为纯文本
func (m *FileParserManager) ParseFile(reader io.Reader, filename string) (string, error) {
	parser, ok := m.parsers[strings.ToLower(filepath.Ext(filename))]
	if !ok {
		return "", apperrors.NewInvalidFileError(filename, fmt.Errorf("unsupported file format %q", filepath.Ext(filename)))
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", apperrors.NewInvalidFileError(filename, err)
	}

	text, err := parser.Parse(data, filename)
	if err != nil {
		return "", apperrors.NewInvalidFileError(filename, err)
	}
	return text, nil
}

// GetSupportedFormats 获取支持的文件格式
func (m *FileParserManager) GetSupportedFormats() []string {
	result := make([]string, 0, len(m.parsers))
	for ext := range m.parsers {
		result = append(result, ext)
	}
	sort.Strings(result)
	return result
}
