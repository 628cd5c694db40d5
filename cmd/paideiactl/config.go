package main

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	paideiaapi "paideia/pkg/paideia"
)

func loadRunRequestFromConfig(path string) (paideiaapi.RunRequest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return paideiaapi.RunRequest{}, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return paideiaapi.RunRequest{}, fmt.Errorf("parse %s: %w", path, err)
	}

	var req paideiaapi.RunRequest
	if v, ok := asString(fields["run_id"]); ok {
		req.RunID = v
	}
	if v, ok := asString(fields["data_path"]); ok {
		req.DataPath = v
	}
	if v, ok := asInt(fields["input_cols"]); ok {
		req.InputCols = v
	}
	if v, ok := asInt(fields["synthetic_samples"]); ok {
		req.SyntheticSamples = v
	}
	if v, ok := asIntSlice(fields["hidden_layers"]); ok {
		req.HiddenLayers = v
	}
	if v, ok := asInt(fields["workers"]); ok {
		req.Workers = v
	}
	if v, ok := asInt(fields["epochs"]); ok {
		req.Epochs = v
	}
	if v, ok := asInt(fields["batch_size"]); ok {
		req.BatchSize = v
	}
	if v, ok := asFloat(fields["learning_rate"]); ok {
		req.LearningRate = v
	}
	if v, ok := asInt(fields["seed"]); ok {
		req.Seed = int64(v)
	}
	if v, ok := asInt(fields["checkpoint_every"]); ok {
		req.CheckpointEvery = v
	}
	if v, ok := asInt(fields["decay_every"]); ok {
		req.DecayEvery = v
	}
	if v, ok := asFloat(fields["decay_factor"]); ok {
		req.DecayFactor = v
	}
	if v, ok := asInt(fields["validate_every"]); ok {
		req.ValidateEvery = v
	}
	if v, ok := asInt(fields["holdout_samples"]); ok {
		req.HoldoutSamples = v
	}
	return req, nil
}

func asString(value any) (string, bool) {
	s, ok := value.(string)
	return s, ok
}

func asFloat(value any) (float64, bool) {
	f, ok := value.(float64)
	return f, ok
}

func asInt(value any) (int, bool) {
	f, ok := value.(float64)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

func asIntSlice(value any) ([]int, bool) {
	items, ok := value.([]any)
	if !ok {
		return nil, false
	}
	out := make([]int, 0, len(items))
	for _, item := range items {
		n, ok := asInt(item)
		if !ok {
			return nil, false
		}
		out = append(out, n)
	}
	return out, true
}
