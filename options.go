package kpset

import (
	"github.com/soundprediction/kpset/pkg/config"
	"github.com/soundprediction/kpset/pkg/data"
	"github.com/soundprediction/kpset/pkg/evaluate"
	"github.com/soundprediction/kpset/pkg/inference"
	"github.com/soundprediction/kpset/pkg/vocab"
)

func dataOptions(cfg *config.Config) data.Options {
	return data.Options{
		BatchSize:             cfg.Data.BatchSize,
		MaxSrcLen:             cfg.Data.MaxSrcLen,
		SortByLength:          cfg.Data.SortByLength,
		FixKpNumLen:           cfg.Slots.FixKpNumLen,
		MaxKpNum:              cfg.Slots.MaxKpNum,
		MaxKpLen:              cfg.Slots.MaxKpLen,
		SeparatePresentAbsent: cfg.Slots.SeperatePreAb,
	}
}

func evaluateOptions(cfg *config.Config, v *vocab.Vocab) evaluate.Options {
	return evaluate.Options{
		Special:               v.Special(),
		VocabSize:             v.Size(),
		FixKpNumLen:           cfg.Slots.FixKpNumLen,
		SeparatePresentAbsent: cfg.Slots.SeperatePreAb,
		AssignSteps:           cfg.Slots.AssignSteps,
		SetLoss:               cfg.Loss.SetLoss,
		UseOptimalTransport:   cfg.Loss.UseOptimalTransport,
		Epsilon:               cfg.Loss.OTEpsilon,
		Iterations:            cfg.Loss.OTIterations,
		AdaptiveScale:         cfg.Loss.AdaptiveLRScale,
		CopyAttention:         cfg.Decode.CopyAttention,
		LossScale:             cfg.Loss.LossScale,
		LossScalePre:          cfg.Loss.LossScalePre,
		LossScaleAb:           cfg.Loss.LossScaleAb,
	}
}

func predictorOptions(cfg *config.Config) inference.Options {
	return inference.Options{
		FixKpNumLen:           cfg.Slots.FixKpNumLen,
		MaxKpNum:              cfg.Slots.MaxKpNum,
		MaxKpLen:              cfg.Slots.MaxKpLen,
		SeparatePresentAbsent: cfg.Slots.SeperatePreAb,
		ReplaceUnk:            cfg.Decode.ReplaceUnk,
		LogInterval:           cfg.Decode.LogInterval,
	}
}

// settings is the configuration snapshot stored in run reports. Secrets
// and transport details are left out.
func settings(cfg *config.Config) map[string]any {
	return map[string]any{
		"generator": cfg.Model.Generator,
		"data": map[string]any{
			"test_path":      cfg.Data.TestPath,
			"vocab_path":     cfg.Data.VocabPath,
			"batch_size":     cfg.Data.BatchSize,
			"max_src_len":    cfg.Data.MaxSrcLen,
			"lowercase":      cfg.Data.Lowercase,
			"sort_by_length": cfg.Data.SortByLength,
		},
		"slots": map[string]any{
			"fix_kp_num_len":  cfg.Slots.FixKpNumLen,
			"max_kp_num":      cfg.Slots.MaxKpNum,
			"max_kp_len":      cfg.Slots.MaxKpLen,
			"assign_steps":    cfg.Slots.AssignSteps,
			"seperate_pre_ab": cfg.Slots.SeperatePreAb,
		},
		"loss": map[string]any{
			"set_loss":              cfg.Loss.SetLoss,
			"use_optimal_transport": cfg.Loss.UseOptimalTransport,
			"adaptive_lr_scale":     cfg.Loss.AdaptiveLRScale,
			"loss_scale":            cfg.Loss.LossScale,
			"loss_scale_pre":        cfg.Loss.LossScalePre,
			"loss_scale_ab":         cfg.Loss.LossScaleAb,
		},
		"decode": map[string]any{
			"vocab_size":     cfg.Decode.VocabSize,
			"copy_attention": cfg.Decode.CopyAttention,
			"replace_unk":    cfg.Decode.ReplaceUnk,
			"max_decode_len": cfg.Decode.MaxDecodeLen,
			"pred_path":      cfg.Decode.PredPath,
		},
	}
}
