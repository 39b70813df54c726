// Package sixdof is a host-side driver for a USB-attached 6-DOF inside-out
// tracking sensor (vendor 0x040E, product 0xF408). It discovers the
// device, identifies it, negotiates a SLAM mode, and streams ~950 Hz pose
// samples to consumers through a bounded channel.
//
// The three hard subsystems — wire codec, device lifecycle, and the
// streaming engine — live in internal/protocol, internal/session, and
// internal/stream respectively; this package is a thin, stable surface
// over them.
package sixdof
