// Package engine runs the epoch loop for a trainable module.
//
// A Trainer fits a Module on a training loader, evaluates it on a validation
// loader after every epoch and hands the epoch metrics to its logger and
// callbacks. Epoch metrics are the batch-size-weighted means of the step
// metrics, merged with whatever an EpochHooks module reports at the end of the
// pass (F1 and recall cannot be averaged over batches).
//
// Callbacks:
//   - ModelCheckpoint keeps the single best module state by a monitored
//     metric, named from a template such as
//     "model-{epoch:02d}-{val_loss:.2f}-{val_f1:.2f}" which renders as
//     "model-epoch=03-val_loss=0.52-val_f1=0.77.ckpt".
//   - EarlyStopping stops fitting when the monitored metric has not improved
//     for Patience epochs.
//
// Checkpoints are written in protobuf wire format and read back with
// ReadCheckpoint.
package engine
