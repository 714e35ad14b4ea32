// Package experiment records hyperparameters and epoch metrics of training runs.
//
// Runs are grouped by a root and a name and receive the next free version
// number, so repeated trials with the same name are kept side by side as
// root/name/version_0, root/name/version_1, ...
package experiment
