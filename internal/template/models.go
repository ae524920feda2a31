package template

import (
	"time"

	"cmsreport/internal/common"
)

// Format 输出格式
type Format string

const (
	FormatHTML Format = "html" // 结构化标记
	FormatPDF  Format = "pdf"  // 固定版式
	FormatDOCX Format = "docx" // 可编辑文档
)

// AllFormats 支持的全部格式
var AllFormats = []Format{FormatHTML, FormatPDF, FormatDOCX}

// Valid 是否为支持的格式
func (f Format) Valid() bool {
	for _, a := range AllFormats {
		if a == f {
			return true
		}
	}
	return false
}

// 模板类型
const (
	TypeVibrationAnalysis = "vibration_analysis"
	TypeFaultDiagnosis    = "fault_diagnosis"
	TypeTrendAnalysis     = "trend_analysis"
	TypeMaintenance       = "maintenance"
	TypeComprehensive     = "comprehensive"
	TypeCustom            = "custom"
)

// 模板元数据键
const (
	MetaDeviceType   = "device_type"
	MetaAnalysisType = "analysis_type"
	MetaComment      = "comment"
)

// 变量类型
const (
	VarString = "string"
	VarNumber = "number"
	VarList   = "list"
	VarTable  = "table"
)

// VariableSpec 模板变量声明
type VariableSpec struct {
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type" yaml:"type"`
	Required bool   `json:"required" yaml:"required"`
	Optional bool   `json:"optional,omitempty" yaml:"optional,omitempty"`
	Default  string `json:"default,omitempty" yaml:"default,omitempty"`
}

// Template 报告模板的一个版本，每个 (name, version) 一行
// 已发布的版本只追加不修改，正文与变量声明保存后不再变化。
type Template struct {
	ID          string            `json:"id" gorm:"primaryKey;size:36"`
	Name        string            `json:"name" gorm:"size:255;not null;uniqueIndex:idx_template_name_version"`
	Version     int               `json:"version" gorm:"not null;uniqueIndex:idx_template_name_version"`
	Type        string            `json:"type" gorm:"size:64;index"`
	Author      string            `json:"author" gorm:"size:100"`
	Description string            `json:"description" gorm:"type:text"`
	Tags        []string          `json:"tags" gorm:"type:json;serializer:json"`
	Metadata    map[string]string `json:"metadata,omitempty" gorm:"type:json;serializer:json"`
	Variables   []VariableSpec    `json:"variables" gorm:"type:json;serializer:json"`
	Formats     []Format          `json:"formats" gorm:"type:json;serializer:json"`
	Body        string            `json:"body" gorm:"type:text;not null"`

	Active         bool `json:"active" gorm:"not null;default:true;index"`
	IsDefault      bool `json:"is_default" gorm:"not null;default:false"`
	ReferenceCount int  `json:"reference_count" gorm:"not null;default:0"`

	common.TimestampModel
	common.SoftDeleteModel
}

// TableName 表名
func (Template) TableName() string {
	return "report_templates"
}

// Variable 按名称查找变量声明
func (t *Template) Variable(name string) (VariableSpec, bool) {
	for _, v := range t.Variables {
		if v.Name == name {
			return v, true
		}
	}
	return VariableSpec{}, false
}

// Supports 模板是否声明支持该格式，未声明时视为支持全部格式
func (t *Template) Supports(f Format) bool {
	if len(t.Formats) == 0 {
		return f.Valid()
	}
	for _, x := range t.Formats {
		if x == f {
			return true
		}
	}
	return false
}

// Summary 列表展示用的模板摘要
type Summary struct {
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Version     int       `json:"version"`
	Author      string    `json:"author"`
	Description string    `json:"description"`
	Tags        []string  `json:"tags"`
	Formats     []Format  `json:"formats"`
	Active      bool      `json:"active"`
	IsDefault   bool      `json:"is_default"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Summarize 生成摘要
func (t *Template) Summarize() Summary {
	return Summary{
		Name:        t.Name,
		Type:        t.Type,
		Version:     t.Version,
		Author:      t.Author,
		Description: t.Description,
		Tags:        t.Tags,
		Formats:     t.Formats,
		Active:      t.Active,
		IsDefault:   t.IsDefault,
		UpdatedAt:   t.UpdatedAt,
	}
}
