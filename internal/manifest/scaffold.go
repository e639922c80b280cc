package manifest

// Scaffold is the manifest written by `runbook init`: the standard task set
// for a cargo-based project, with the conventional single-letter aliases.
const Scaffold = `version: "1"

env:
  CARGO_TERM_COLOR: always

tasks:
  run:
    aliases: [r]
    desc: build and execute in debug mode
    cmds:
      - cargo run

  dev:
    aliases: [d]
    desc: build and execute with fast-compile options
    cmds:
      - cargo run --features dev
    sources: ["src/**/*.rs", "Cargo.toml"]

  build:
    aliases: [b]
    desc: build in debug mode
    cmds:
      - cargo build
    sources: ["src/**/*.rs", "Cargo.toml"]
    generates: ["target/debug"]

  release:
    desc: build in release mode
    cmds:
      - cargo build --release
    sources: ["src/**/*.rs", "Cargo.toml"]
    generates: ["target/release"]

  check:
    aliases: [c]
    desc: type-check without a full build
    cmds:
      - cargo check

  fmt:
    aliases: [f]
    desc: reformat the source tree
    cmds:
      - cargo fmt

  lint:
    aliases: [l]
    desc: static analysis, warnings as errors
    cmds:
      - cargo clippy -- -D warnings

  clean:
    desc: remove build artifacts
    cmds:
      - cargo clean
`
