/*
   Copyright The DeepGrep Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

// Package zpipe streams the contents of compressed and archived inputs
// to a consumer one logical member at a time, without materializing
// anything on disk.
//
// A Stage owns a decompression source, a single long-lived worker
// goroutine, and a pipe to its consumer. The worker pulls decompressed
// blocks from the source, demultiplexes tar and cpio containers found
// inline in the stream, and writes each regular member's bytes to the
// pipe. Member names travel out of band: the worker publishes the
// current name under the stage lock before the member's first byte is
// written, and the consumer picks it up through the handoff protocol.
// End of member is pipe EOF; the consumer asks for the following member
// with OpenNext.
//
// Inputs compressed several times over are handled by chaining stages:
// a stage at depth N reads from the pipe of the stage at depth N+1
// instead of from the file, so each layer gets its own worker and the
// chain forms a linear pipeline. Start, Cancel and Join recurse over
// the chain link.
//
// The worker goroutine is created lazily on the first Start and reused
// for every subsequent member and input; it parks between inputs and is
// woken by condition signal. Stages are not safe for concurrent use by
// multiple consumers: exactly one goroutine drives Start/OpenNext/
// Cancel/Join, mirroring a search worker walking one file at a time.
package zpipe
