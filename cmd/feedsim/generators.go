package main

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/pscheid92/sensorbridge/internal/domain"
	"github.com/vmihailenco/msgpack/v5"
)

var labels = []string{"person", "forklift", "pallet", "robot"}

// generator produces the n-th synthetic document of one sensor kind.
type generator func(n uint64, now time.Time, rng *rand.Rand) map[string]any

var generators = map[string]generator{
	"detection": detectionDoc,
	"lidar":     lidarDoc,
	"imu":       imuDoc,
}

func detectionDoc(n uint64, _ time.Time, rng *rand.Rand) map[string]any {
	count := rng.IntN(4)
	detections := make([]map[string]any, 0, count)
	for range count {
		detections = append(detections, map[string]any{
			"label":      labels[rng.IntN(len(labels))],
			"confidence": math.Round(rng.Float64()*1000) / 1000,
			"bbox":       []int{rng.IntN(640), rng.IntN(480), 20 + rng.IntN(100), 20 + rng.IntN(100)},
		})
	}
	return map[string]any{
		"frame":      n,
		"detections": detections,
		"image":      nil,
	}
}

const lidarPoints = 360

func lidarDoc(_ uint64, now time.Time, rng *rand.Rand) map[string]any {
	points := make([][2]float64, lidarPoints)
	for i := range points {
		angle := float64(i) * 2 * math.Pi / lidarPoints
		r := 2 + rng.Float64()*0.5
		points[i] = [2]float64{
			math.Round(r*math.Cos(angle)*1000) / 1000,
			math.Round(r*math.Sin(angle)*1000) / 1000,
		}
	}
	return map[string]any{
		"points":         points,
		"scan_frequency": 10,
		"timestamp":      float64(now.UnixMilli()) / 1000,
	}
}

func imuDoc(n uint64, _ time.Time, _ *rand.Rand) map[string]any {
	t := float64(n) / 10
	return map[string]any{
		"roll":  math.Round(5*math.Sin(t)*100) / 100,
		"pitch": math.Round(3*math.Cos(t/2)*100) / 100,
		"yaw":   math.Mod(float64(n), 360),
	}
}

func encode(doc map[string]any, format domain.Format) ([]byte, error) {
	switch format {
	case domain.FormatMsgpack:
		b, err := msgpack.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("encode msgpack: %w", err)
		}
		return b, nil
	default:
		b, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("encode json: %w", err)
		}
		return b, nil
	}
}

// garbageFrame is not valid in either supported format.
var garbageFrame = []byte{0xc1, '{', 'n', 'o', 't', ' ', 'j', 's', 'o', 'n'}
