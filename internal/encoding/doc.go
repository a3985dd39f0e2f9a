// Package encoding turns captured frames into the final timelapse video.
//
// Frames are partitioned into fixed-size chunks; each chunk gets a concat
// manifest and one ffmpeg invocation that writes its segment. Segments are
// then stream-copied into a single final video. Every output is written to a
// ".partial" sibling and renamed only after ffmpeg exits cleanly, so a
// non-empty segment or final video on disk is always a finished one. That is
// the only record of progress: re-running EncodeAll skips finished chunks and
// the pipeline treats an existing final video as "encode and merge done".
//
// Chunks are encoded one at a time in index order to bound peak CPU and
// memory on small capture hosts.
package encoding
