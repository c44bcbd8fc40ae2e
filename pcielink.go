// Package pcielink implements the reliable-delivery protocol and
// link-initialization state machine of a single-lane PCI Express
// Data Link Layer, as a software protocol engine clocked one symbol
// per tick.
//
// The engine is built from three tightly coupled parts:
//
// 1. The DLL reliability protocol: 12-bit sequence numbering, LCRC-32
// generation and checking, a retry buffer with NAK-triggered replay,
// and ACK/NAK bookkeeping over 8-byte DLLPs.
//
// 2. The PIPE symbol framing layer: conversion between sequence-tagged
// packets and a byte-oriented symbol stream with K-character
// delimiters, SKP clock-compensation sets, and TS1/TS2 training sets.
//
// 3. The LTSSM: the control loop driving the link from power-on
// through Polling and Configuration to L0, and back through Recovery.
//
// The Transaction Layer above and the transceiver below are external
// collaborators: payloads are opaque byte slices, and the physical
// boundary is an abstract (byte, control-flag) symbol exchanged per
// tick together with the PIPE sideband signals.
package pcielink
