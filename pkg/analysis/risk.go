// Package analysis implements the Analysis agent: per-category
// and global risk scoring plus pattern detection over a rolling window,
// published to Decision at a fixed cadence.
package analysis

import (
	"math"
	"time"
)

// RiskLevel is a coarse risk classification derived from a numeric score.
type RiskLevel int

const (
	RiskNone RiskLevel = iota
	RiskLow
	RiskMedium
	RiskHigh
	RiskCritical
)

func (l RiskLevel) String() string {
	switch l {
	case RiskLow:
		return "Low"
	case RiskMedium:
		return "Medium"
	case RiskHigh:
		return "High"
	case RiskCritical:
		return "Critical"
	default:
		return "None"
	}
}

// RiskScore is a single category's (or the global) computed risk.
type RiskScore struct {
	Category   string
	Level      RiskLevel
	Score      float64 // 0-100
	Confidence float64 // 0-1
	Factors    []string
	Timestamp  time.Time
}

// PatternAlert is a detected multi-sample anomaly.
type PatternAlert struct {
	Type             string
	Severity         RiskLevel
	Description      string
	SignalsInvolved  []string
	Timestamp        time.Time
}

// Thresholds controls the piecewise risk bands and pattern detectors.
type Thresholds struct {
	DistanceCriticalMM int
	DistanceHighMM     int
	DistanceMediumMM   int
	DistanceLowMM      int

	FumesCritical float64
	FumesHigh     float64
	FumesMedium   float64
	FumesLow      float64

	PatternWindow         time.Duration
	ApproachRateThreshold float64 // mm/s
	OscillationThreshold  int
	DriftThreshold        float64
}

// DefaultThresholds returns the welding-cell defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DistanceCriticalMM:    500,
		DistanceHighMM:        800,
		DistanceMediumMM:      1200,
		DistanceLowMM:         2000,
		FumesCritical:         1.2,
		FumesHigh:             1.0,
		FumesMedium:           0.8,
		FumesLow:              0.5,
		PatternWindow:         5 * time.Second,
		ApproachRateThreshold: 500.0,
		OscillationThreshold:  5,
		DriftThreshold:        0.2,
	}
}

// categoryWeights are the global-risk weighted-mean weights; a category absent from this map defaults to weight 0.1.
var categoryWeights = map[string]float64{
	"collision": 0.35,
	"distance":  0.30,
	"exposure":  0.20,
	"equipment": 0.15,
}

func lerpBand(loScore, hiScore, loInput, hiInput, input float64) float64 {
	if hiInput == loInput {
		return loScore
	}
	t := (input - loInput) / (hiInput - loInput)
	return loScore + (hiScore-loScore)*t
}

// distanceRisk scores the Distance category.
func distanceRisk(scannerDist, visionDist float64, scannerPresent bool) RiskScore {
	minDistance := scannerDist
	if visionDist < minDistance {
		minDistance = visionDist
	}

	var level RiskLevel
	var score float64
	t := DefaultThresholds()
	switch {
	case minDistance <= float64(t.DistanceCriticalMM):
		level, score = RiskCritical, 100
	case minDistance <= float64(t.DistanceHighMM):
		level = RiskHigh
		score = 75 + lerpBand(0, 25, float64(t.DistanceHighMM), float64(t.DistanceCriticalMM), minDistance)
	case minDistance <= float64(t.DistanceMediumMM):
		level = RiskMedium
		score = 50 + lerpBand(0, 25, float64(t.DistanceMediumMM), float64(t.DistanceHighMM), minDistance)
	case minDistance <= float64(t.DistanceLowMM):
		level = RiskLow
		score = 25 + lerpBand(0, 25, float64(t.DistanceLowMM), float64(t.DistanceMediumMM), minDistance)
	default:
		level, score = RiskNone, 0
	}

	var factors []string
	if scannerDist < 2000 {
		factors = append(factors, "scanner_min_distance")
	}
	if visionDist < 2000 {
		factors = append(factors, "vision_min_distance")
	}
	confidence := 0.7
	if scannerPresent {
		confidence = 0.9
	}
	return RiskScore{Category: "distance", Level: level, Score: score, Confidence: confidence, Factors: factors}
}

// collisionRisk scores the Collision category via time-to-collision.
func collisionRisk(distanceMM, robotSpeedMMs float64) RiskScore {
	ttc := math.Inf(1)
	if robotSpeedMMs > 0 {
		ttc = distanceMM / robotSpeedMMs
	}

	var level RiskLevel
	var score float64
	switch {
	case ttc < 0.5:
		level, score = RiskCritical, 100
	case ttc < 1.0:
		level, score = RiskHigh, 80
	case ttc < 2.0:
		level, score = RiskMedium, 50
	case ttc < 5.0:
		level, score = RiskLow, 25
	default:
		level, score = RiskNone, 0
	}

	return RiskScore{Category: "collision", Level: level, Score: score, Confidence: 0.85}
}

// exposureRisk scores the Exposure category from the fumes VLEP ratio.
func exposureRisk(vlepRatio float64) RiskScore {
	t := DefaultThresholds()
	var level RiskLevel
	var score float64
	switch {
	case vlepRatio >= t.FumesCritical:
		level, score = RiskCritical, 100
	case vlepRatio >= t.FumesHigh:
		level = RiskHigh
		score = 75 + lerpBand(0, 25, t.FumesHigh, t.FumesCritical, vlepRatio)
	case vlepRatio >= t.FumesMedium:
		level = RiskMedium
		score = 50 + lerpBand(0, 25, t.FumesMedium, t.FumesHigh, vlepRatio)
	case vlepRatio >= t.FumesLow:
		level = RiskLow
		score = 25 + lerpBand(0, 25, t.FumesLow, t.FumesMedium, vlepRatio)
	default:
		level, score = RiskNone, 0
	}
	return RiskScore{Category: "exposure", Level: level, Score: score, Confidence: 0.95}
}

// EquipmentInput bundles the signals equipmentRisk needs: whether PPE is ok
// and which critical signal ids currently have a non-Good quality.
type EquipmentInput struct {
	PPEOk            bool
	DegradedCritical []string // ids of critical signals with quality != Good
}

// equipmentRisk scores the Equipment category.
func equipmentRisk(in EquipmentInput) RiskScore {
	issues := 0
	var factors []string
	if !in.PPEOk {
		issues += 2
		factors = append(factors, "ppe_missing")
	}
	for _, id := range in.DegradedCritical {
		issues++
		factors = append(factors, "degraded:"+id)
	}

	var level RiskLevel
	var score float64
	switch {
	case issues >= 3:
		level, score = RiskHigh, 75
	case issues >= 2:
		level, score = RiskMedium, 50
	case issues >= 1:
		level, score = RiskLow, 25
	default:
		level, score = RiskNone, 0
	}
	if len(factors) == 0 {
		factors = []string{"all_equipment_ok"}
	}
	return RiskScore{Category: "equipment", Level: level, Score: score, Confidence: 0.9, Factors: factors}
}

// globalRisk combines category scores via the configured weighted mean; the
// level is the max of the category levels.
func globalRisk(categories map[string]RiskScore) RiskScore {
	if len(categories) == 0 {
		return RiskScore{Category: "global"}
	}
	var weighted, totalWeight float64
	maxLevel := RiskNone
	var factors []string
	for name, risk := range categories {
		weight, ok := categoryWeights[name]
		if !ok {
			weight = 0.1
		}
		weighted += risk.Score * weight
		totalWeight += weight
		if risk.Level > maxLevel {
			maxLevel = risk.Level
		}
		if risk.Level >= RiskMedium {
			factors = append(factors, name+":"+risk.Level.String())
		}
	}
	score := 0.0
	if totalWeight > 0 {
		score = weighted / totalWeight
	}
	return RiskScore{Category: "global", Level: maxLevel, Score: score, Confidence: 0.85, Factors: factors}
}
