// Package kpset evaluates and runs keyphrase generation models that predict
// a set of keyphrases in parallel slots.
//
// A model is trained to fill a fixed number of slots, each holding one
// keyphrase or a <null> marker. Because the set of gold keyphrases has no
// natural order, the target of every slot is chosen by matching the
// model's own free-running predictions against the gold keyphrases
// (Hungarian assignment or optimal transport) before the loss is computed.
// The package also supports the classic one-sequence setup where
// keyphrases are joined with <sep>.
//
// # Basic Usage
//
// Load the configuration and create a client. The model is served over
// HTTP by model.endpoint:
//
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	client, err := kpset.New(cfg, nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
// # Evaluating
//
// Evaluate computes the loss over data.test_path and saves a run report:
//
//	rep, err := client.Evaluate(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Printf("ppl %.3f\n", rep.Loss.PPL)
//
// # Predicting
//
// Predict writes one line per document to <decode.pred_path>/predictions.txt,
// with the keyphrases of a document separated by ';':
//
//	rep, err := client.Predict(ctx)
//
// PredictDocuments decodes documents held in memory, as the HTTP server
// does:
//
//	preds, err := client.PredictDocuments(ctx, []data.Document{
//		{Src: strings.Fields("efficient keyphrase generation with set prediction")},
//	})
//
// # Custom Models
//
// Any model.Model can replace the HTTP backend. Without a generator that
// implements model.Generator, decoding falls back to the greedy set
// generator of package inference:
//
//	client, err := kpset.New(cfg, &kpset.Options{Model: myModel, Vocab: v})
package kpset
