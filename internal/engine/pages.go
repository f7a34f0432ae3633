package engine

import (
	"time"

	"github.com/wattlens/wattlens/internal/anomaly"
	"github.com/wattlens/wattlens/internal/forecast"
	"github.com/wattlens/wattlens/internal/inspect"
	"github.com/wattlens/wattlens/internal/models"
)

// Trace is one plotted column.
type Trace struct {
	Column string         `json:"column"`
	Points anomaly.Series `json:"points"`
}

// ColumnGroup is one chart of the equipment page.
type ColumnGroup struct {
	Name    string   `json:"name"`
	Traces  []Trace  `json:"traces"`
	Missing []string `json:"missing,omitempty"`
}

// EquipmentPage holds the per-module sensor charts for a day range.
type EquipmentPage struct {
	RenderID  string           `json:"render_id"`
	Module    int              `json:"module"`
	Start     time.Time        `json:"start"`
	End       time.Time        `json:"end"`
	TotalRows int              `json:"total_rows"`
	Rows      int              `json:"rows"`
	Columns   int              `json:"columns"`
	Encoding  string           `json:"encoding"`
	Groups    []ColumnGroup    `json:"groups"`
	Warnings  []models.Warning `json:"warnings,omitempty"`
}

// AnomalyPage is the threshold view of one module's error series.
type AnomalyPage struct {
	RenderID    string            `json:"render_id"`
	Module      int               `json:"module"`
	Threshold   float64           `json:"threshold"`
	Start       time.Time         `json:"start"`
	End         time.Time         `json:"end"`
	SeriesStart time.Time         `json:"series_start"`
	SeriesEnd   time.Time         `json:"series_end"`
	Series      anomaly.Series    `json:"series"`
	Flags       []bool            `json:"flags"`
	Count       int               `json:"count"`
	Total       int               `json:"total"`
	Anomalies   anomaly.Series    `json:"anomalies"`
	Labels      map[string]int    `json:"labels,omitempty"`
	Hints       []string          `json:"hints,omitempty"`
	Annotated   anomaly.Annotated `json:"-"`
}

// ComparePage shows one column before and after an uploaded cleaning pass.
type ComparePage struct {
	RenderID   string              `json:"render_id"`
	Module     int                 `json:"module"`
	Source     string              `json:"source"`
	Available  []string            `json:"available"`
	Comparison *anomaly.Comparison `json:"comparison,omitempty"`
	Reduced    int                 `json:"missing_reduced"`
	Warnings   []string            `json:"warnings,omitempty"`
}

// InspectPage is the profile of an uploaded table.
type InspectPage struct {
	RenderID string          `json:"render_id"`
	Profile  inspect.Profile `json:"profile"`
	Preview  *models.Table   `json:"preview"`
}

// ForecastPage carries a forecast request, its predictions and evaluation.
type ForecastPage struct {
	RenderID    string                `json:"render_id"`
	Source      string                `json:"source"`
	Target      string                `json:"target"`
	Horizon     int                   `json:"horizon"`
	MinHorizon  int                   `json:"min_horizon"`
	MaxHorizon  int                   `json:"max_horizon"`
	Shape       string                `json:"shape"`
	Request     forecast.Request      `json:"request"`
	Input       anomaly.Series        `json:"input"`
	Holdout     anomaly.Series        `json:"holdout"`
	Predictions []forecast.Prediction `json:"predictions"`
	Evaluation  *forecast.Evaluation  `json:"evaluation,omitempty"`
	TotalKWh    float64               `json:"total_kwh"`
	TotalBill   float64               `json:"total_bill"`
	TotalCarbon float64               `json:"total_carbon"`
	Warnings    []string              `json:"warnings,omitempty"`
}

// SkippedFile is a batch upload that was not sent for prediction.
type SkippedFile struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// BatchPage holds the combined batch prediction output.
type BatchPage struct {
	RenderID string               `json:"render_id"`
	Modules  []int                `json:"modules"`
	Skipped  []SkippedFile        `json:"skipped,omitempty"`
	Result   forecast.BatchResult `json:"result"`
}
