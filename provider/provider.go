/*
 * Copyright 2024 CloudWeGo Authors
 * Copyright 2026 The pspproxy Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package provider defines the transport abstraction a PduEngine runs PDU
// traffic over, and a URI-based constructor for the three concrete
// transports this module implements.
package provider

import (
	"fmt"
	"net/url"
	"time"

	"github.com/amdpsp/pspproxy/errs"
	"github.com/amdpsp/pspproxy/provider/em100prov"
	"github.com/amdpsp/pspproxy/provider/serialprov"
	"github.com/amdpsp/pspproxy/provider/tcpprov"
)

// Provider is the byte-stream substrate a PduEngine frames PDUs onto. It
// is always driven by exactly one goroutine (the engine's runloop); no
// method is safe to call concurrently with another.
type Provider interface {
	// Peek reports how many bytes are available to Read without
	// blocking, or an error if that can't be determined.
	Peek() (int, error)
	// Read reads up to len(b) available bytes into b. The engine calls it
	// only after Poll has reported data. With nothing available,
	// em100prov returns 0 at once, while tcpprov and serialprov block
	// until at least one byte arrives, with no deadline.
	Read(b []byte) (int, error)
	// Write writes all of b, blocking until done. em100prov does not
	// wait for ring space: it fails if its ring lacks room for all of b.
	Write(b []byte) (int, error)
	// Poll blocks up to timeout for data to become available for Peek,
	// returning errs.Timeout if none arrived.
	Poll(timeout time.Duration) error
	// Interrupt makes a Poll blocked in another goroutine return early;
	// it is the one exception to the rule above. tcpprov does so by
	// moving the read deadline into the past; serialprov and em100prov
	// implement it as a no-op.
	Interrupt() error
	// Connect performs whatever one-time handshake this transport needs
	// before PDU traffic can flow (opening the control socket, probing
	// the SPI ring-buffer header, raw-mode setup on a tty). Every
	// provider requires this step uniformly; none is exempt.
	Connect() error
	// Close releases the provider's resources.
	Close() error
}

// Dial parses uri and returns the matching Provider, unconnected — the
// caller must still call Connect. Recognized schemes: "tcp", "serial",
// "em100tcp".
func Dial(uri string) (Provider, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, errs.Wrap(errs.KindArgument, "provider.Dial", "parse uri", err)
	}
	switch u.Scheme {
	case "tcp":
		return tcpprov.New(u.Host)
	case "serial":
		addr := u.Opaque
		if addr == "" {
			addr = u.Path
		}
		return serialprov.New(addr)
	case "em100tcp":
		return em100prov.New(u.Host)
	default:
		return nil, errs.New(errs.KindArgument, "provider.Dial", fmt.Sprintf("unknown scheme %q", u.Scheme))
	}
}
