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

package zpipe

import "errors"

// ErrStopped is the error carried by a member pipe when the stage is
// cancelled mid-stream. Consumers that called Cancel themselves can
// treat it as a clean end of data.
var ErrStopped = errors.New("decompression stage stopped")
