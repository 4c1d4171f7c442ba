package db

import (
	"time"

	"github.com/liuran001/BiliSummary-Go/summary"
	"gorm.io/gorm"
)

// SegmentModel caches the raw bytes of one danmaku segment.
type SegmentModel struct {
	ID           uint      `gorm:"primarykey"`
	Cid          int64     `gorm:"not null;index:idx_cid_segment,unique"`
	SegmentIndex int       `gorm:"not null;index:idx_cid_segment,unique"`
	Payload      []byte    `gorm:"not null"`
	FetchedAt    time.Time `gorm:"not null;index"`
}

func (SegmentModel) TableName() string {
	return "danmaku_segments"
}

// AnalysisModel stores a generated summary.
type AnalysisModel struct {
	gorm.Model
	VideoID   string `gorm:"not null;index:idx_video_model"`
	ModelName string `gorm:"column:model;not null;index:idx_video_model"`
	Content   string `gorm:"type:text"`
}

func (AnalysisModel) TableName() string {
	return "analyses"
}

func toAnalysisModel(a *summary.Analysis) *AnalysisModel {
	return &AnalysisModel{
		VideoID:   a.VideoID,
		ModelName: a.Model,
		Content:   a.Content,
	}
}

func fromAnalysisModel(m *AnalysisModel) *summary.Analysis {
	return &summary.Analysis{
		ID:        m.ID,
		CreatedAt: m.CreatedAt,
		VideoID:   m.VideoID,
		Model:     m.ModelName,
		Content:   m.Content,
	}
}
